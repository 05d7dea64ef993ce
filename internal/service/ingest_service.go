package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"easyimg/internal/config"
	"easyimg/internal/models"
)

// IngestItem is the per-URL outcome of a batch ingestion, reported in
// the order the URLs were submitted.
type IngestItem struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Success  bool   `json:"success"`
	ImageID  string `json:"imageId,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error,omitempty"`
}

type IngestSummary struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"successCount"`
	Failed    int          `json:"failCount"`
	Items     []IngestItem `json:"results"`
}

// ProgressFunc observes each finished item while the batch is running.
type ProgressFunc func(item IngestItem)

type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (UploadResult, error)
}

var (
	ErrNoURLs       = errors.New("no URLs to ingest")
	ErrTooManyURLs  = errors.New("too many URLs in one batch")
	ErrNotAnImage   = errors.New("response is not an image")
	ErrFileTooLarge = errors.New("remote file exceeds the size limit")
)

// IngestService downloads remote images one at a time and feeds them
// through the normal upload path.
type IngestService struct {
	uploader Uploader
	client   *http.Client
	cfg      *config.AppConfig
	log      zerolog.Logger
}

func NewIngestService(uploader Uploader, client *http.Client, cfg *config.AppConfig, log zerolog.Logger) *IngestService {
	if client == nil {
		client = &http.Client{}
	}
	return &IngestService{
		uploader: uploader,
		client:   client,
		cfg:      cfg,
		log:      log,
	}
}

// IngestBatch processes the URLs serially. Validation failures reject the
// whole batch before any download starts; per-URL failures only fail that
// item. The summary lists every item in submission order.
func (s *IngestService) IngestBatch(ctx context.Context, rawURLs []string, uploader, ip string, progress ProgressFunc) (IngestSummary, error) {
	urls := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return IngestSummary{}, ErrNoURLs
	}
	if max := s.cfg.Upload.MaxBatchURLs; max > 0 && len(urls) > max {
		return IngestSummary{}, fmt.Errorf("%w: %d URLs, limit %d", ErrTooManyURLs, len(urls), max)
	}

	summary := IngestSummary{Total: len(urls), Items: make([]IngestItem, 0, len(urls))}

	for i, target := range urls {
		item := s.ingestOne(ctx, i, target, uploader, ip)
		if item.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Items = append(summary.Items, item)
		if progress != nil {
			progress(item)
		}

		if i < len(urls)-1 && s.cfg.Upload.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(s.cfg.Upload.BatchDelay):
			}
		}
	}

	return summary, nil
}

func (s *IngestService) ingestOne(ctx context.Context, index int, target, uploader, ip string) IngestItem {
	item := IngestItem{Index: index, URL: target}

	data, err := s.download(ctx, target)
	if err != nil {
		item.Error = err.Error()
		s.log.Warn().Str("url", target).Str("error", item.Error).Msg("url ingest failed")
		return item
	}

	result, err := s.uploader.Upload(ctx, UploadInput{
		Data:         data,
		OriginalName: filenameFromURL(target),
		Uploader:     uploader,
		Source:       models.UploadSourceURL,
		SourceURL:    target,
		IP:           ip,
	})
	if err != nil {
		item.Error = err.Error()
		s.log.Warn().Str("url", target).Str("error", item.Error).Msg("url ingest failed")
		return item
	}

	item.Success = true
	item.ImageID = result.Image.ID
	item.ImageURL = result.URL
	item.Filename = result.Image.Filename
	return item
}

func (s *IngestService) download(ctx context.Context, target string) ([]byte, error) {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid URL: %s", target)
	}

	reqCtx := ctx
	if timeout := s.cfg.Upload.DownloadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	// Some hosts refuse requests without a browser-looking identity or a
	// same-origin referer.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8")
	req.Header.Set("Referer", fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	// The header is only a coarse filter; the byte sniff on upload decides
	// the real format, since remote hosts routinely mislabel images.
	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	contentType = strings.TrimSpace(contentType)
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotAnImage, contentType)
	}

	max := s.cfg.Upload.MaxFileSize
	if max > 0 && resp.ContentLength > max {
		return nil, ErrFileTooLarge
	}

	reader := io.Reader(resp.Body)
	if max > 0 {
		reader = io.LimitReader(resp.Body, max+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if max > 0 && int64(len(data)) > max {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func filenameFromURL(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
