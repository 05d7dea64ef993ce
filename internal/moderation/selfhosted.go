package moderation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

const selfHostedDefaultThreshold = 0.8

// selfHostedProvider talks to an operator-deployed nsfw_detector instance.
// The endpoint URL is mandatory configuration: its absence is a
// configuration error, not a transient failure, and triggers no network
// call.
type selfHostedProvider struct {
	client *http.Client
}

func (p *selfHostedProvider) Name() string { return "nsfw_detector" }

type selfHostedResponse struct {
	Status string `json:"status"`
	Result struct {
		Sfw    float64 `json:"sfw"`
		Nsfw   float64 `json:"nsfw"`
		IsNsfw bool    `json:"is_nsfw"`
	} `json:"result"`
}

func (p *selfHostedProvider) Detect(ctx context.Context, image []byte, filename string, cfg ProviderConfig) Result {
	if cfg.APIURL == "" {
		return failure("nsfw_detector endpoint not configured")
	}

	body, contentType, err := buildImageForm("file", filename, image)
	if err != nil {
		return failure("build request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, body)
	if err != nil {
		return failure("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return failure("detection request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure("api request failed: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("read response: %v", err)
	}

	var decoded selfHostedResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failure("decode response: %v", err)
	}
	if decoded.Status != "success" {
		return failure("api returned error: %s", string(raw))
	}

	threshold := cfg.threshold(selfHostedDefaultThreshold)
	score := decoded.Result.Nsfw

	return Result{
		Success:   true,
		IsNsfw:    score >= threshold,
		Score:     score,
		Threshold: threshold,
		RawResult: raw,
	}
}
