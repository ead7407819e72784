package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/company-assistant-go/pkg/logger"
)

func newProvider(overrides *config.Overrides) (*Provider, storage.Storage) {
	store := storage.NewMemoryStorage(config.MemoryConfig{})
	return NewProvider(store, func() config.Overrides { return *overrides }, logger.Discard()), store
}

func TestIsValidWebhookURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://n8n.example.com/webhook/abc", true},
		{"http://localhost:5678/webhook", true},
		{"HTTPS://example.com", true},
		{"http://10.0.0.1/hook?token=x", true},
		{"", false},
		{"example.com/webhook", false},
		{"ftp://example.com/hook", false},
		{"file:///etc/passwd", false},
		{"javascript:alert(1)", false},
		{"http://", false},
		{"https:///path-only", false},
		{"http://exa mple.com", false},
		{"://missing-scheme", false},
	}
	for _, tt := range tests {
		if got := IsValidWebhookURL(tt.in); got != tt.want {
			t.Errorf("IsValidWebhookURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	got, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != models.DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	ctx := context.Background()
	want := models.Settings{WebhookURL: "https://hooks.example.com/x", APIToken: "t", Username: "anna", Theme: models.ThemeLight}
	if err := p.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := p.Get(ctx)
	if err != nil || got != want {
		t.Fatalf("got %+v err=%v, want %+v", got, err, want)
	}
}

func TestSaveRejectsInvalidURLWithoutPersisting(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	ctx := context.Background()
	for _, bad := range []string{"not a url", "ftp://x.example.com", "example.com", "http://"} {
		err := p.Save(ctx, models.Settings{WebhookURL: bad, Theme: models.ThemeDark})
		if !errors.Is(err, ErrInvalidWebhookURL) {
			t.Fatalf("Save(%q): expected ErrInvalidWebhookURL, got %v", bad, err)
		}
	}
	got, _ := p.Get(ctx)
	if got.WebhookURL != "" {
		t.Fatalf("invalid URL was persisted: %q", got.WebhookURL)
	}
}

func TestSaveAllowsEmptyURL(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	if err := p.Save(context.Background(), models.Settings{Username: "x"}); err != nil {
		t.Fatalf("empty webhook URL must be accepted: %v", err)
	}
}

func TestSaveRejectsUnknownTheme(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	err := p.Save(context.Background(), models.Settings{Theme: "neon"})
	if !errors.Is(err, ErrInvalidTheme) {
		t.Fatalf("expected ErrInvalidTheme, got %v", err)
	}
}

func TestSaveRejectedWhenLocked(t *testing.T) {
	overrides := &config.Overrides{SettingsLocked: true}
	p, _ := newProvider(overrides)
	ctx := context.Background()

	if !p.IsLocked() {
		t.Fatalf("expected locked")
	}
	err := p.Save(ctx, models.Settings{Username: "x", Theme: models.ThemeDark})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	got, _ := p.Get(ctx)
	if got.Username != "" {
		t.Fatalf("locked save persisted data: %+v", got)
	}

	overrides.SettingsLocked = false
	if p.IsLocked() {
		t.Fatalf("overrides must be read on every call")
	}
}

func TestWebhookOverrideIsEffectiveAndNotPersisted(t *testing.T) {
	overrides := &config.Overrides{}
	p, _ := newProvider(overrides)
	ctx := context.Background()

	if err := p.Save(ctx, models.Settings{WebhookURL: "https://stored.example.com", Theme: models.ThemeDark}); err != nil {
		t.Fatalf("save: %v", err)
	}

	overrides.WebhookURL = "https://env.example.com/hook"
	if !p.IsWebhookLocked() {
		t.Fatalf("expected webhook to be locked")
	}

	effective, err := p.GetEffective(ctx)
	if err != nil || effective.WebhookURL != "https://env.example.com/hook" {
		t.Fatalf("effective = %+v err=%v", effective, err)
	}

	// A caller-supplied URL is ignored while the override is active,
	// even an invalid one.
	if err := p.Save(ctx, models.Settings{WebhookURL: "garbage", Username: "bob", Theme: models.ThemeDark}); err != nil {
		t.Fatalf("save with webhook lock: %v", err)
	}
	stored, _ := p.Get(ctx)
	if stored.WebhookURL != "https://stored.example.com" {
		t.Fatalf("override or caller URL leaked into storage: %q", stored.WebhookURL)
	}
	if stored.Username != "bob" {
		t.Fatalf("other fields must still be saved: %+v", stored)
	}

	state, err := p.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !state.WebhookLocked || state.Locked || state.Settings.WebhookURL != "https://env.example.com/hook" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestResolveIsPure(t *testing.T) {
	persisted := models.Settings{WebhookURL: "https://a.example.com", Theme: models.ThemeDark}
	got := Resolve(persisted, config.Overrides{WebhookURL: "https://b.example.com"})
	if got.WebhookURL != "https://b.example.com" {
		t.Fatalf("override not applied: %+v", got)
	}
	if persisted.WebhookURL != "https://a.example.com" {
		t.Fatalf("Resolve mutated its input")
	}
	if Resolve(persisted, config.Overrides{}) != persisted {
		t.Fatalf("no override must return persisted settings")
	}
}

func TestDeviceIDIsStable(t *testing.T) {
	p, _ := newProvider(&config.Overrides{})
	ctx := context.Background()
	first, err := p.DeviceID(ctx)
	if err != nil || first == "" {
		t.Fatalf("device id: %q err=%v", first, err)
	}
	second, err := p.DeviceID(ctx)
	if err != nil || second != first {
		t.Fatalf("device id changed: %q -> %q (err=%v)", first, second, err)
	}
}

func TestChangeListenerReceivesEffectiveSettings(t *testing.T) {
	overrides := &config.Overrides{WebhookURL: "https://env.example.com"}
	p, _ := newProvider(overrides)
	var seen models.Settings
	p.RegisterChangeListener(func(s models.Settings) { seen = s })

	if err := p.Save(context.Background(), models.Settings{Username: "eve", Theme: models.ThemeSystem}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if seen.Username != "eve" || seen.WebhookURL != "https://env.example.com" {
		t.Fatalf("listener got %+v", seen)
	}
}
