package moderation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

const (
	nsfwdetDefaultThreshold = 0.5
)

// nsfwdetProvider submits the image as multipart form data with an API key
// header. The response carries a raw NSFW probability judged against a
// configurable threshold.
type nsfwdetProvider struct {
	client *http.Client
}

func (p *nsfwdetProvider) Name() string { return "NSFW Detector" }

type nsfwdetResponse struct {
	Code   int `json:"code"`
	Result struct {
		Normal float64 `json:"normal"`
		Nsfw   float64 `json:"nsfw"`
	} `json:"result"`
}

func (p *nsfwdetProvider) Detect(ctx context.Context, image []byte, filename string, cfg ProviderConfig) Result {
	defaults := DefaultProviderConfigs()[ProviderNsfwdet]

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaults.APIURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = defaults.APIKey
	}

	body, contentType, err := buildImageForm("image", filename, image)
	if err != nil {
		return failure("build request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return failure("build request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
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

	var decoded nsfwdetResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failure("decode response: %v", err)
	}
	if decoded.Code != 0 {
		return failure("api returned error: code=%d", decoded.Code)
	}

	threshold := cfg.threshold(nsfwdetDefaultThreshold)
	score := decoded.Result.Nsfw

	return Result{
		Success:   true,
		IsNsfw:    score >= threshold,
		Score:     score,
		Threshold: threshold,
		RawResult: raw,
	}
}
