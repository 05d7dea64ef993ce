package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Payload carries one notification event to a channel.
type Payload struct {
	Type      EventType
	Title     string
	Message   string
	Timestamp string
	Data      map[string]any
}

// DeliveryResult reports the outcome of one dispatch. Skipped deliveries
// are not errors: the feature or the event type is simply turned off.
type DeliveryResult struct {
	Success bool
	Skipped bool
	Reason  string
	Error   string
}

func delivered() DeliveryResult         { return DeliveryResult{Success: true} }
func skipped(reason string) DeliveryResult {
	return DeliveryResult{Success: true, Skipped: true, Reason: reason}
}
func failed(format string, args ...any) DeliveryResult {
	return DeliveryResult{Error: fmt.Sprintf(format, args...)}
}

type channel interface {
	send(ctx context.Context, cfg Config, payload Payload) DeliveryResult
}

// Dispatcher fans one event out to the single configured channel. Delivery
// is best effort: failures are logged and returned, never retried, and
// never roll back the state change that triggered the event.
type Dispatcher struct {
	settings SettingsStore
	channels map[Method]channel
	log      zerolog.Logger
}

func NewDispatcher(settings SettingsStore, client *http.Client, log zerolog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Dispatcher{
		settings: settings,
		channels: map[Method]channel{
			MethodWebhook:    &webhookChannel{client: client},
			MethodTelegram:   &telegramChannel{client: client},
			MethodEmail:      &emailChannel{},
			MethodServerChan: &serverChanChannel{client: client},
		},
		log: log,
	}
}

// LoadConfig reads a fresh configuration snapshot merged over defaults.
func (d *Dispatcher) LoadConfig(ctx context.Context) Config {
	var stored Config
	if err := d.settings.Load(ctx, settingsKey, &stored); err != nil {
		return DefaultConfig()
	}
	return mergeDefaults(stored)
}

func (d *Dispatcher) SaveConfig(ctx context.Context, cfg Config) error {
	switch cfg.Method {
	case MethodWebhook, MethodTelegram, MethodEmail, MethodServerChan:
	default:
		return fmt.Errorf("unsupported notification method: %s", cfg.Method)
	}
	return d.settings.Save(ctx, settingsKey, cfg)
}

// Send delivers one event through the configured channel.
func (d *Dispatcher) Send(ctx context.Context, eventType EventType, payload Payload) DeliveryResult {
	cfg := d.LoadConfig(ctx)

	if !cfg.Enabled {
		return skipped("notifications disabled")
	}
	if !cfg.Types[eventType] {
		return skipped(fmt.Sprintf("%s notifications disabled", eventType))
	}

	payload.Type = eventType
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	ch, ok := d.channels[cfg.Method]
	if !ok {
		return failed("unsupported notification method: %s", cfg.Method)
	}

	result := ch.send(ctx, cfg, payload)
	if !result.Success {
		d.log.Warn().
			Str("event", string(eventType)).
			Str("method", string(cfg.Method)).
			Str("error", result.Error).
			Msg("notification delivery failed")
	}
	return result
}

// TestChannel delivers a synthetic event through one channel with the given
// settings, bypassing the enabled flags. Used by the settings UI to verify
// credentials before saving.
func (d *Dispatcher) TestChannel(ctx context.Context, method Method, cfg Config) DeliveryResult {
	ch, ok := d.channels[method]
	if !ok {
		return failed("unsupported notification method: %s", method)
	}
	return ch.send(ctx, cfg, Payload{
		Type:      "test",
		Title:     "Test notification",
		Message:   "This is a test notification verifying the channel configuration.",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      map[string]any{"test": true},
	})
}

// SendLogin fires the login event.
func (d *Dispatcher) SendLogin(ctx context.Context, username, ip, userAgent string) DeliveryResult {
	return d.Send(ctx, EventLogin, Payload{
		Title:   "Login notification",
		Message: fmt.Sprintf("User %s signed in", username),
		Data: map[string]any{
			"username":  username,
			"ip":        ip,
			"userAgent": userAgent,
			"loginTime": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// UploadInfo describes an uploaded image for the upload event.
type UploadInfo struct {
	ImageID  string
	Filename string
	Format   string
	Size     int64
	URL      string
	Uploader string
	Source   string
	IP       string
}

// SendUpload fires the upload event.
func (d *Dispatcher) SendUpload(ctx context.Context, info UploadInfo) DeliveryResult {
	return d.Send(ctx, EventUpload, Payload{
		Title:   "Image uploaded",
		Message: fmt.Sprintf("New image uploaded: %s", info.Filename),
		Data: map[string]any{
			"imageId":    info.ImageID,
			"filename":   info.Filename,
			"format":     info.Format,
			"size":       info.Size,
			"url":        info.URL,
			"uploader":   info.Uploader,
			"uploadType": info.Source,
			"ip":         info.IP,
			"uploadTime": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// ModerationOutcome describes a finished detection for the nsfw event.
type ModerationOutcome struct {
	ImageID  string
	Filename string
	URL      string
	IsNsfw   bool
	Score    float64
	Provider string
}

// SendNsfw fires the moderation-result event.
func (d *Dispatcher) SendNsfw(ctx context.Context, outcome ModerationOutcome) DeliveryResult {
	title := "Image moderation passed"
	message := fmt.Sprintf("Image %s passed moderation", outcome.Filename)
	if outcome.IsNsfw {
		title = "NSFW image detected"
		message = fmt.Sprintf("Image %s was flagged as NSFW", outcome.Filename)
	}

	return d.Send(ctx, EventNsfw, Payload{
		Title:   title,
		Message: message,
		Data: map[string]any{
			"imageId":   outcome.ImageID,
			"filename":  outcome.Filename,
			"url":       outcome.URL,
			"isNsfw":    outcome.IsNsfw,
			"score":     outcome.Score,
			"provider":  outcome.Provider,
			"checkTime": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// imageURLFrom extracts a displayable image link from event data. Only
// fully-qualified http(s) URLs qualify.
func imageURLFrom(data map[string]any) string {
	for _, key := range []string{"url", "imageUrl"} {
		raw, ok := data[key].(string)
		if !ok || raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if parsed.Scheme == "http" || parsed.Scheme == "https" {
			return raw
		}
	}
	return ""
}

// appendixKeys returns the data keys rendered in a channel's key/value
// appendix, sorted for stable output, with the image-URL fields excluded.
func appendixKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		if key == "url" || key == "imageUrl" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
