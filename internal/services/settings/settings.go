package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	settingsKey = "settings"
	deviceIDKey = "deviceId"
)

var (
	// ErrLocked is returned when settings are locked by the environment
	ErrLocked = errors.New("settings are locked")
	// ErrInvalidWebhookURL is returned for a webhook URL that is not an
	// absolute http(s) URL
	ErrInvalidWebhookURL = errors.New("webhook URL must start with http:// or https://")
	// ErrInvalidTheme is returned for an unknown theme
	ErrInvalidTheme = errors.New("theme must be one of dark, light, system")
)

// IsValidWebhookURL reports whether value parses as an absolute URL with
// an http or https scheme and a host
func IsValidWebhookURL(value string) bool {
	if value == "" {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Hostname() != ""
}

// Resolve applies the environment overrides to persisted settings
func Resolve(persisted models.Settings, overrides config.Overrides) models.Settings {
	effective := persisted
	if overrides.WebhookURL != "" {
		effective.WebhookURL = overrides.WebhookURL
	}
	return effective
}

// Provider reads and writes the settings record. It holds no copy of the
// settings; every read goes to storage and the overrides source.
type Provider struct {
	store     storage.Storage
	overrides func() config.Overrides
	logger    *logrus.Logger

	deviceMu  sync.Mutex
	mu        sync.RWMutex
	listeners []func(models.Settings)
}

// NewProvider creates a settings provider. overrides is consulted on
// every call; pass config.ReadOverrides in production.
func NewProvider(store storage.Storage, overrides func() config.Overrides, logger *logrus.Logger) *Provider {
	if overrides == nil {
		overrides = func() config.Overrides { return config.Overrides{} }
	}
	return &Provider{
		store:     store,
		overrides: overrides,
		logger:    logger,
	}
}

// Get returns the persisted settings, or defaults when nothing is saved
func (p *Provider) Get(ctx context.Context) (models.Settings, error) {
	stored := models.DefaultSettings()
	found, err := p.store.Get(ctx, settingsKey, &stored)
	if err != nil {
		return models.DefaultSettings(), fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		return models.DefaultSettings(), nil
	}
	if stored.Theme == "" {
		stored.Theme = models.ThemeDark
	}
	return stored, nil
}

// GetEffective returns the persisted settings with overrides applied
func (p *Provider) GetEffective(ctx context.Context) (models.Settings, error) {
	stored, err := p.Get(ctx)
	if err != nil {
		return Resolve(stored, p.overrides()), err
	}
	return Resolve(stored, p.overrides()), nil
}

// IsLocked reports whether the environment forbids any change
func (p *Provider) IsLocked() bool {
	return p.overrides().SettingsLocked
}

// IsWebhookLocked reports whether the webhook URL comes from the environment
func (p *Provider) IsWebhookLocked() bool {
	return p.overrides().WebhookURL != ""
}

// State returns the effective settings and lock flags for the shell
func (p *Provider) State(ctx context.Context) (models.SettingsState, error) {
	overrides := p.overrides()
	stored, err := p.Get(ctx)
	state := models.SettingsState{
		Settings:      Resolve(stored, overrides),
		Locked:        overrides.SettingsLocked,
		WebhookLocked: overrides.WebhookURL != "",
	}
	return state, err
}

// Save validates and persists s
func (p *Provider) Save(ctx context.Context, s models.Settings) error {
	overrides := p.overrides()
	if overrides.SettingsLocked {
		return ErrLocked
	}

	s.WebhookURL = strings.TrimSpace(s.WebhookURL)
	s.Username = strings.TrimSpace(s.Username)
	if s.Theme == "" {
		s.Theme = models.ThemeDark
	}
	if !s.Theme.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, s.Theme)
	}

	if overrides.WebhookURL != "" {
		// The environment owns the field; keep whatever was stored.
		stored, err := p.Get(ctx)
		if err != nil {
			return err
		}
		s.WebhookURL = stored.WebhookURL
	} else if s.WebhookURL != "" && !IsValidWebhookURL(s.WebhookURL) {
		return ErrInvalidWebhookURL
	}

	if err := p.store.Set(ctx, settingsKey, s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"hasWebhook": s.WebhookURL != "" || overrides.WebhookURL != "",
		"hasToken":   s.APIToken != "",
		"theme":      s.Theme,
	}).Info("Settings saved")

	p.notifyChange(Resolve(s, overrides))
	return nil
}

// DeviceID returns the install's device id, generating it on first use
func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	p.deviceMu.Lock()
	defer p.deviceMu.Unlock()

	var existing string
	found, err := p.store.Get(ctx, deviceIDKey, &existing)
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	if found && existing != "" {
		return existing, nil
	}

	next := uuid.NewString()
	if err := p.store.Set(ctx, deviceIDKey, next); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	p.logger.WithField("device_id", next).Info("Generated device id")
	return next, nil
}

// RegisterChangeListener registers a callback run after a successful save
func (p *Provider) RegisterChangeListener(listener func(models.Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

func (p *Provider) notifyChange(effective models.Settings) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, listener := range p.listeners {
		listener(effective)
	}
}
