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

const defaultServerChanBaseURL = "https://sctapi.ftqq.com"

type serverChanChannel struct {
	client  *http.Client
	baseURL string
}

func (c *serverChanChannel) send(ctx context.Context, cfg Config, payload Payload) DeliveryResult {
	if cfg.ServerChan.SendKey == "" {
		return failed("serverchan send key is required")
	}

	base := c.baseURL
	if base == "" {
		base = defaultServerChanBaseURL
	}
	endpoint := fmt.Sprintf("%s/%s.send", base, cfg.ServerChan.SendKey)

	var desp strings.Builder
	desp.WriteString(payload.Message)
	if imageURL := imageURLFrom(payload.Data); imageURL != "" {
		fmt.Fprintf(&desp, "\n\n![image](%s)", imageURL)
	}
	for _, key := range appendixKeys(payload.Data) {
		fmt.Fprintf(&desp, "\n\n**%s**: %s", key, stringify(payload.Data[key]))
	}

	form := url.Values{
		"text": {payload.Title},
		"desp": {desp.String()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failed("build serverchan request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return failed("serverchan request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return failed("read serverchan response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failed("serverchan returned status %d", resp.StatusCode)
	}

	var apiResp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return failed("decode serverchan response: %v", err)
	}
	if apiResp.Code != 0 {
		return failed("serverchan push failed: code %d %s", apiResp.Code, apiResp.Message)
	}
	return delivered()
}
