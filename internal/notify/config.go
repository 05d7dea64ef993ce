package notify

import "context"

const settingsKey = "notificationConfig"

type EventType string

const (
	EventLogin  EventType = "login"
	EventUpload EventType = "upload"
	EventNsfw   EventType = "nsfw"
)

type Method string

const (
	MethodWebhook    Method = "webhook"
	MethodTelegram   Method = "telegram"
	MethodEmail      Method = "email"
	MethodServerChan Method = "serverchan"
)

type WebhookConfig struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ContentType  string            `json:"contentType"`
	Headers      map[string]string `json:"headers"`
	BodyTemplate string            `json:"bodyTemplate"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID string `json:"chatId"`
}

type EmailConfig struct {
	Service string `json:"service"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
	To      string `json:"to"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
}

type ServerChanConfig struct {
	SendKey string `json:"sendKey"`
}

// Config is the operator-mutable notification document. All per-channel
// blocks persist together so switching the active method keeps the other
// channels' credentials.
type Config struct {
	Enabled    bool               `json:"enabled"`
	Method     Method             `json:"method"`
	Types      map[EventType]bool `json:"types"`
	Webhook    WebhookConfig      `json:"webhook"`
	Telegram   TelegramConfig     `json:"telegram"`
	Email      EmailConfig        `json:"email"`
	ServerChan ServerChanConfig   `json:"serverchan"`
}

const defaultBodyTemplate = `{
  "type": "{{type}}",
  "title": "{{title}}",
  "message": "{{message}}",
  "timestamp": "{{timestamp}}",
  "data": "{{data}}"
}`

func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Method:  MethodWebhook,
		Types: map[EventType]bool{
			EventLogin:  true,
			EventUpload: true,
			EventNsfw:   true,
		},
		Webhook: WebhookConfig{
			Method:       "POST",
			ContentType:  "application/json",
			Headers:      map[string]string{},
			BodyTemplate: defaultBodyTemplate,
		},
	}
}

// SettingsStore is the persisted key/document collaborator.
type SettingsStore interface {
	Load(ctx context.Context, key string, out any) error
	Save(ctx context.Context, key string, value any) error
}

// mergeDefaults overlays a stored document on the defaults so fields added
// after the document was written still get sane values.
func mergeDefaults(stored Config) Config {
	cfg := DefaultConfig()

	cfg.Enabled = stored.Enabled
	if stored.Method != "" {
		cfg.Method = stored.Method
	}
	for eventType, enabled := range stored.Types {
		cfg.Types[eventType] = enabled
	}

	if stored.Webhook.URL != "" {
		cfg.Webhook.URL = stored.Webhook.URL
	}
	if stored.Webhook.Method != "" {
		cfg.Webhook.Method = stored.Webhook.Method
	}
	if stored.Webhook.ContentType != "" {
		cfg.Webhook.ContentType = stored.Webhook.ContentType
	}
	if stored.Webhook.Headers != nil {
		cfg.Webhook.Headers = stored.Webhook.Headers
	}
	if stored.Webhook.BodyTemplate != "" {
		cfg.Webhook.BodyTemplate = stored.Webhook.BodyTemplate
	}

	if stored.Telegram != (TelegramConfig{}) {
		cfg.Telegram = stored.Telegram
	}
	if stored.Email != (EmailConfig{}) {
		cfg.Email = stored.Email
	}
	if stored.ServerChan != (ServerChanConfig{}) {
		cfg.ServerChan = stored.ServerChan
	}

	return cfg
}
