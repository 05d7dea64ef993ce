package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNsfwdetDetectFlagsScoreAboveThreshold(t *testing.T) {
	var gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("missing image field: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code":   0,
			"result": map[string]float64{"normal": 0.1, "nsfw": 0.9},
		})
	}))
	defer server.Close()

	p := &nsfwdetProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{
		APIURL: server.URL,
		APIKey: "test-key",
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if gotAPIKey != "test-key" {
		t.Fatalf("api key header = %q, want test-key", gotAPIKey)
	}
	if !result.IsNsfw {
		t.Fatalf("score 0.9 with threshold 0.5 should be nsfw")
	}
	if result.Score != 0.9 {
		t.Fatalf("score = %v, want 0.9", result.Score)
	}
	if result.Threshold != 0.5 {
		t.Fatalf("threshold = %v, want default 0.5", result.Threshold)
	}
}

func TestNsfwdetDetectRespectsConfiguredThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":   0,
			"result": map[string]float64{"nsfw": 0.6},
		})
	}))
	defer server.Close()

	threshold := 0.7
	p := &nsfwdetProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{
		APIURL:    server.URL,
		Threshold: &threshold,
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if result.IsNsfw {
		t.Fatalf("score 0.6 below threshold 0.7 should not be nsfw")
	}
}

func TestNsfwdetDetectNon2xxIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	p := &nsfwdetProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{APIURL: server.URL})

	if result.Success {
		t.Fatalf("expected failure on 502")
	}
	if result.Error == "" {
		t.Fatalf("expected error message")
	}
}

func TestNsfwdetDetectVendorErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 42})
	}))
	defer server.Close()

	p := &nsfwdetProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{APIURL: server.URL})

	if result.Success {
		t.Fatalf("expected failure on vendor code 42")
	}
}

func TestElysiaDetectTwoStepUnsafe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"filePath": "tmp/abc.jpg"})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		var req elysiaDetectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode detect request: %v", err)
		}
		if req.ImageFile != "tmp/abc.jpg" {
			t.Errorf("imageFile = %q, want tmp/abc.jpg", req.ImageFile)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"confidence": 80.0,
				"data":       map[string]bool{"isSafe": false},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := &elysiaProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{
		UploadURL: server.URL + "/upload",
		APIURL:    server.URL + "/detect",
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if !result.IsNsfw {
		t.Fatalf("isSafe=false should be nsfw")
	}
	if result.Score != 0.2 {
		t.Fatalf("score = %v, want (100-80)/100 = 0.2", result.Score)
	}
}

func TestElysiaDetectSafeImageScoresZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"filePath": "tmp/ok.png"})
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"confidence": 99.0,
				"data":       map[string]bool{"isSafe": true},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := &elysiaProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "ok.png", ProviderConfig{
		UploadURL: server.URL + "/upload",
		APIURL:    server.URL + "/detect",
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if result.IsNsfw {
		t.Fatalf("safe image flagged nsfw")
	}
	if result.Score != 0 {
		t.Fatalf("score = %v, want 0 for safe image", result.Score)
	}
}

func TestElysiaDetectMissingFilePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	p := &elysiaProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{
		UploadURL: server.URL,
		APIURL:    server.URL,
	})

	if result.Success {
		t.Fatalf("expected failure when upload response has no filePath")
	}
}

type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, http.ErrNotSupported
}

func TestSelfHostedMissingEndpointMakesNoCall(t *testing.T) {
	transport := &countingTransport{}
	p := &selfHostedProvider{client: &http.Client{Transport: transport}}

	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{})

	if result.Success {
		t.Fatalf("expected configuration failure")
	}
	if transport.calls != 0 {
		t.Fatalf("no network call expected, got %d", transport.calls)
	}
}

func TestSelfHostedDetect(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"result": map[string]any{"sfw": 0.0014, "nsfw": 0.9986, "is_nsfw": true},
		})
	}))
	defer server.Close()

	p := &selfHostedProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{
		APIURL: server.URL,
		APIKey: "secret",
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q, want Bearer secret", gotAuth)
	}
	if !result.IsNsfw {
		t.Fatalf("score 0.9986 with default threshold 0.8 should be nsfw")
	}
	if result.Threshold != 0.8 {
		t.Fatalf("threshold = %v, want default 0.8", result.Threshold)
	}
}

func TestSelfHostedVendorStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	}))
	defer server.Close()

	p := &selfHostedProvider{client: server.Client()}
	result := p.Detect(context.Background(), []byte("img"), "cat.jpg", ProviderConfig{APIURL: server.URL})

	if result.Success {
		t.Fatalf("expected failure on vendor status != success")
	}
}

func TestRegistryKnownAndUnknownKeys(t *testing.T) {
	registry := NewRegistry(nil)

	for _, key := range []string{ProviderNsfwdet, ProviderElysiaTools, ProviderNsfwDetector} {
		if _, ok := registry.ForKey(key); !ok {
			t.Fatalf("provider %s missing from registry", key)
		}
	}
	if _, ok := registry.ForKey("acme"); ok {
		t.Fatalf("unknown provider key should not resolve")
	}
}
