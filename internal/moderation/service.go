package moderation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const settingsKey = "contentSafetyConfig"

// Config is the operator-mutable content-safety document, persisted in the
// settings store. Every per-vendor block is kept at once so switching
// providers does not lose the others' credentials.
type Config struct {
	Enabled   bool                      `json:"enabled"`
	Provider  string                    `json:"provider"`
	Providers map[string]ProviderConfig `json:"providers"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Provider:  ProviderElysiaTools,
		Providers: DefaultProviderConfigs(),
	}
}

// SettingsStore is the persisted key/document collaborator.
type SettingsStore interface {
	Load(ctx context.Context, key string, out any) error
	Save(ctx context.Context, key string, value any) error
}

// FileStore supplies stored image bytes to the adapters.
type FileStore interface {
	ReadFile(ctx context.Context, filename string) ([]byte, error)
	Exists(ctx context.Context, filename string) (bool, error)
}

type Service struct {
	registry *Registry
	settings SettingsStore
	files    FileStore
	log      zerolog.Logger
}

func NewService(registry *Registry, settings SettingsStore, files FileStore, log zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		settings: settings,
		files:    files,
		log:      log,
	}
}

// LoadConfig reads the stored content-safety document merged over defaults,
// so configurations written before a provider existed still carry its
// defaults. Every call reads fresh state; operator changes apply to the
// next moderation without a restart.
func (s *Service) LoadConfig(ctx context.Context) Config {
	cfg := DefaultConfig()

	var stored Config
	if err := s.settings.Load(ctx, settingsKey, &stored); err != nil {
		return cfg
	}

	cfg.Enabled = stored.Enabled
	if stored.Provider != "" {
		cfg.Provider = stored.Provider
	}
	for key, pc := range stored.Providers {
		cfg.Providers[key] = pc
	}
	return cfg
}

func (s *Service) SaveConfig(ctx context.Context, cfg Config) error {
	if cfg.Provider != "" {
		if _, ok := s.registry.ForKey(cfg.Provider); !ok {
			return fmt.Errorf("unsupported detection provider: %s", cfg.Provider)
		}
	}
	for key, pc := range cfg.Providers {
		if err := ValidateProviderConfig(key, pc); err != nil {
			return err
		}
	}
	return s.settings.Save(ctx, settingsKey, cfg)
}

// Enabled reports whether moderation is globally on. Ingestion checks this
// before creating tasks; disabled moderation creates no tasks at all.
func (s *Service) Enabled(ctx context.Context) bool {
	return s.LoadConfig(ctx).Enabled
}

// Moderate runs NSFW detection for a stored image. All failures, including
// configuration mistakes, surface in the Result rather than as errors.
func (s *Service) Moderate(ctx context.Context, imageID, filename string) Result {
	cfg := s.LoadConfig(ctx)
	if !cfg.Enabled {
		return Result{Success: true, Skipped: true}
	}

	providerKey := cfg.Provider
	adapter, ok := s.registry.ForKey(providerKey)
	if !ok {
		return failure("unsupported detection provider: %s", providerKey)
	}

	providerCfg, ok := cfg.Providers[providerKey]
	if !ok {
		providerCfg = DefaultProviderConfigs()[providerKey]
	}

	exists, err := s.files.Exists(ctx, filename)
	if err != nil {
		return failure("stat image file: %v", err)
	}
	if !exists {
		return failure("image file not found")
	}

	image, err := s.files.ReadFile(ctx, filename)
	if err != nil {
		return failure("read image file: %v", err)
	}

	result := adapter.Detect(ctx, image, filename, providerCfg)
	result.Provider = providerKey

	s.log.Debug().
		Str("image_id", imageID).
		Str("provider", providerKey).
		Bool("success", result.Success).
		Bool("is_nsfw", result.IsNsfw).
		Float64("score", result.Score).
		Msg("moderation detect finished")

	return result
}

func (s *Service) Supported() []ProviderInfo {
	return s.registry.Supported()
}

// ValidateProviderConfig rejects malformed per-vendor settings before they
// are persisted.
func ValidateProviderConfig(key string, cfg ProviderConfig) error {
	switch key {
	case ProviderNsfwdet, ProviderElysiaTools, ProviderNsfwDetector:
	default:
		return fmt.Errorf("unsupported detection provider: %s", key)
	}

	if cfg.Threshold != nil && (*cfg.Threshold < 0 || *cfg.Threshold > 1) {
		return fmt.Errorf("threshold must be between 0 and 1")
	}
	return nil
}
