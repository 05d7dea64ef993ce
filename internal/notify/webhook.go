package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
)

type webhookChannel struct {
	client *http.Client
}

func (c *webhookChannel) send(ctx context.Context, cfg Config, payload Payload) DeliveryResult {
	if cfg.Webhook.URL == "" {
		return failed("webhook URL is not configured")
	}

	tmpl := cfg.Webhook.BodyTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultBodyTemplate
	}

	body := RenderTemplate(tmpl, map[string]any{
		"type":      string(payload.Type),
		"title":     payload.Title,
		"message":   payload.Message,
		"timestamp": payload.Timestamp,
		"data":      payload.Data,
	})

	method := cfg.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	contentType := cfg.Webhook.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), cfg.Webhook.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return failed("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range cfg.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failed("webhook request: %v", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failed("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return delivered()
}
