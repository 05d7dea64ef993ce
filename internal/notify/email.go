package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

// smtpEndpoints maps the friendly service names the settings UI offers to
// SMTP endpoints. Anything else needs an explicit host/port.
var smtpEndpoints = map[string]struct {
	host string
	port int
}{
	"gmail":   {"smtp.gmail.com", 465},
	"qq":      {"smtp.qq.com", 465},
	"163":     {"smtp.163.com", 465},
	"126":     {"smtp.126.com", 465},
	"outlook": {"smtp-mail.outlook.com", 587},
}

type emailSender func(host string, port int, user, pass string, msg *gomail.Message) error

type emailChannel struct {
	sender emailSender
}

func smtpSend(host string, port int, user, pass string, msg *gomail.Message) error {
	return gomail.NewDialer(host, port, user, pass).DialAndSend(msg)
}

func (c *emailChannel) send(ctx context.Context, cfg Config, payload Payload) DeliveryResult {
	email := cfg.Email
	if email.Service == "" || email.User == "" || email.Pass == "" {
		return failed("email service, user and pass are required")
	}

	host, port := email.Host, email.Port
	if host == "" {
		endpoint, ok := smtpEndpoints[strings.ToLower(email.Service)]
		if !ok {
			return failed("unknown email service %q and no explicit host configured", email.Service)
		}
		host, port = endpoint.host, endpoint.port
	}
	if port == 0 {
		port = 465
	}

	to := email.To
	if to == "" {
		to = email.User
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", email.User)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", payload.Title)
	msg.SetBody("text/html", renderEmailBody(payload))

	sender := c.sender
	if sender == nil {
		sender = smtpSend
	}
	if err := sender(host, port, email.User, email.Pass, msg); err != nil {
		return failed("send email: %v", err)
	}
	return delivered()
}

func renderEmailBody(payload Payload) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:sans-serif;max-width:600px;margin:0 auto">`)
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(payload.Title))
	fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(payload.Message))

	if imageURL := imageURLFrom(payload.Data); imageURL != "" {
		fmt.Fprintf(&b, `<p><img src=%q alt="image" style="max-width:100%%;border-radius:8px"/></p>`, imageURL)
	}

	if keys := appendixKeys(payload.Data); len(keys) > 0 {
		b.WriteString(`<table style="border-collapse:collapse">`)
		for _, key := range keys {
			fmt.Fprintf(&b, `<tr><td style="padding:4px 12px 4px 0;color:#666">%s</td><td style="padding:4px 0">%s</td></tr>`,
				html.EscapeString(key), html.EscapeString(stringify(payload.Data[key])))
		}
		b.WriteString("</table>")
	}

	fmt.Fprintf(&b, `<p style="color:#999;font-size:12px">%s</p>`, html.EscapeString(payload.Timestamp))
	b.WriteString("</div>")
	return b.String()
}
