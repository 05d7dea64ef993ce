package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// elysiaProvider runs the vendor's two-step flow: upload the image to obtain
// a server-side file handle, then call the analysis endpoint with that
// handle. The vendor's own isSafe flag drives the verdict; no threshold
// applies.
type elysiaProvider struct {
	client *http.Client
}

func (p *elysiaProvider) Name() string { return "Elysia Tools" }

type elysiaUploadResponse struct {
	FilePath string `json:"filePath"`
}

type elysiaDetectRequest struct {
	ImageFile    string  `json:"imageFile"`
	Sensitivity  float64 `json:"sensitivity"`
	AnalysisMode string  `json:"analysisMode"`
}

type elysiaDetectResponse struct {
	Data *struct {
		Confidence float64 `json:"confidence"`
		Data       struct {
			IsSafe bool `json:"isSafe"`
		} `json:"data"`
	} `json:"data"`
}

func (p *elysiaProvider) Detect(ctx context.Context, image []byte, filename string, cfg ProviderConfig) Result {
	defaults := DefaultProviderConfigs()[ProviderElysiaTools]

	uploadURL := cfg.UploadURL
	if uploadURL == "" {
		uploadURL = defaults.UploadURL
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaults.APIURL
	}

	filePath, result := p.upload(ctx, uploadURL, image, filename)
	if filePath == "" {
		return result
	}

	return p.analyze(ctx, apiURL, filePath)
}

func (p *elysiaProvider) upload(ctx context.Context, uploadURL string, image []byte, filename string) (string, Result) {
	body, contentType, err := buildImageForm("file", filename, image)
	if err != nil {
		return "", failure("build upload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", failure("build upload: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", failure("upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", failure("upload failed: %s", resp.Status)
	}

	var decoded elysiaUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", failure("decode upload response: %v", err)
	}
	if decoded.FilePath == "" {
		return "", failure("upload response missing filePath")
	}
	return decoded.FilePath, Result{}
}

func (p *elysiaProvider) analyze(ctx context.Context, apiURL, filePath string) Result {
	payload, err := json.Marshal(elysiaDetectRequest{
		ImageFile:    filePath,
		Sensitivity:  0.5,
		AnalysisMode: "auto",
	})
	if err != nil {
		return failure("encode detect request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return failure("build detect request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure("detection failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure("detection failed: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("read response: %v", err)
	}

	var decoded elysiaDetectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failure("decode response: %v", err)
	}
	if decoded.Data == nil {
		return failure("malformed detection response")
	}

	isSafe := decoded.Data.Data.IsSafe
	score := 0.0
	if !isSafe {
		score = (100 - decoded.Data.Confidence) / 100
	}

	return Result{
		Success:   true,
		IsNsfw:    !isSafe,
		Score:     score,
		RawResult: raw,
	}
}
