package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

type telegramChannel struct {
	client  *http.Client
	baseURL string
}

// markdownEscaper covers the characters Telegram's Markdown parser treats
// as control characters.
var markdownEscaper = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]",
	"(", "\\(", ")", "\\)", "~", "\\~", "`", "\\`",
	">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}",
	".", "\\.", "!", "\\!",
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func (c *telegramChannel) send(ctx context.Context, cfg Config, payload Payload) DeliveryResult {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "" {
		return failed("telegram token and chat ID are required")
	}

	caption := c.buildCaption(payload)

	// An image event gets a photo message so the picture shows inline.
	// If Telegram cannot fetch the photo the text message is the fallback.
	if imageURL := imageURLFrom(payload.Data); imageURL != "" {
		if result := c.call(ctx, cfg, "sendPhoto", url.Values{
			"chat_id":    {cfg.Telegram.ChatID},
			"photo":      {imageURL},
			"caption":    {caption},
			"parse_mode": {"MarkdownV2"},
		}); result.Success {
			return result
		}
		caption += fmt.Sprintf("\n\n%s", escapeMarkdown(imageURL))
	}

	return c.call(ctx, cfg, "sendMessage", url.Values{
		"chat_id":    {cfg.Telegram.ChatID},
		"text":       {caption},
		"parse_mode": {"MarkdownV2"},
	})
}

func (c *telegramChannel) buildCaption(payload Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n%s", escapeMarkdown(payload.Title), escapeMarkdown(payload.Message))
	for _, key := range appendixKeys(payload.Data) {
		fmt.Fprintf(&b, "\n%s: %s", escapeMarkdown(key), escapeMarkdown(stringify(payload.Data[key])))
	}
	return b.String()
}

func (c *telegramChannel) call(ctx context.Context, cfg Config, method string, params url.Values) DeliveryResult {
	base := c.baseURL
	if base == "" {
		base = defaultTelegramBaseURL
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", base, cfg.Telegram.Token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return failed("build telegram request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return failed("telegram request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return failed("read telegram response: %v", err)
	}

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return failed("decode telegram response: %v", err)
	}
	if !apiResp.OK {
		return failed("telegram %s failed: %s", method, apiResp.Description)
	}
	return delivered()
}
