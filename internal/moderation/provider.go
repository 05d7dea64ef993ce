package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"easyimg/internal/media/sniffer"
)

// Provider keys form a closed set; selection is by configuration.
const (
	ProviderNsfwdet      = "nsfwdet"
	ProviderElysiaTools  = "elysiatools"
	ProviderNsfwDetector = "nsfw_detector"
)

// Result is the normalized outcome of one vendor detection call. Adapters
// never return an error: every failure mode folds into Success=false.
type Result struct {
	Success   bool
	Skipped   bool
	IsNsfw    bool
	Score     float64
	Threshold float64
	Provider  string
	RawResult json.RawMessage
	Error     string
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// ProviderConfig is the per-vendor block of the content-safety settings.
// Threshold is a pointer so an operator-set zero is distinguishable from
// "use the vendor default".
type ProviderConfig struct {
	Name      string   `json:"name,omitempty"`
	APIURL    string   `json:"apiUrl"`
	UploadURL string   `json:"uploadUrl,omitempty"`
	APIKey    string   `json:"apiKey,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (c ProviderConfig) threshold(fallback float64) float64 {
	if c.Threshold != nil {
		return *c.Threshold
	}
	return fallback
}

// Provider adapts one vendor's wire protocol to the uniform detect contract.
type Provider interface {
	Name() string
	Detect(ctx context.Context, image []byte, filename string, cfg ProviderConfig) Result
}

// Registry holds the closed set of vendor adapters.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{
		providers: map[string]Provider{
			ProviderNsfwdet:      &nsfwdetProvider{client: client},
			ProviderElysiaTools:  &elysiaProvider{client: client},
			ProviderNsfwDetector: &selfHostedProvider{client: client},
		},
	}
}

func (r *Registry) ForKey(key string) (Provider, bool) {
	p, ok := r.providers[key]
	return p, ok
}

type ProviderInfo struct {
	Key              string   `json:"key"`
	Name             string   `json:"name"`
	DefaultAPIURL    string   `json:"defaultApiUrl"`
	DefaultThreshold *float64 `json:"defaultThreshold,omitempty"`
}

// Supported lists the registered providers with their defaults, for the
// settings UI.
func (r *Registry) Supported() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.providers))
	for _, key := range []string{ProviderNsfwdet, ProviderElysiaTools, ProviderNsfwDetector} {
		def := DefaultProviderConfigs()[key]
		infos = append(infos, ProviderInfo{
			Key:              key,
			Name:             def.Name,
			DefaultAPIURL:    def.APIURL,
			DefaultThreshold: def.Threshold,
		})
	}
	return infos
}

// DefaultProviderConfigs returns the vendor defaults seeded into a fresh
// content-safety configuration.
func DefaultProviderConfigs() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderNsfwdet: {
			Name:      "NSFW Detector",
			APIURL:    "https://nsfwdet.com/api/v1/detect-nsfw",
			APIKey:    "nsfw_2f7ab4f1d743d69ee242eec932b19671", // vendor's open default key
			Threshold: floatPtr(0.5),
		},
		ProviderElysiaTools: {
			Name:      "Elysia Tools",
			UploadURL: "https://elysiatools.com/upload/nsfw-image-detector",
			APIURL:    "https://elysiatools.com/zh/api/tools/nsfw-image-detector",
		},
		ProviderNsfwDetector: {
			Name:      "nsfw_detector",
			Threshold: floatPtr(0.8),
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

// buildImageForm packs image bytes into a multipart body under the given
// field name, with a content type inferred from the filename.
func buildImageForm(field, filename string, image []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", sniffer.MIMEForFilename(filename))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}
