package diagnostics

import (
	"context"
	"runtime"
	"runtime/debug"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/conversation"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// Commit is the build revision, set with
// -ldflags "-X github.com/company-assistant-go/internal/services/diagnostics.Commit=<sha>"
var Commit string

// SettingsSource is the part of the settings provider diagnostics reads
type SettingsSource interface {
	GetEffective(ctx context.Context) (models.Settings, error)
	IsLocked() bool
	IsWebhookLocked() bool
}

type StorageInfo interface {
	Info() storage.Info
}

type ConversationStats interface {
	Stats() conversation.Stats
}

type PendingCounter interface {
	Len() int
}

// Report is what the shell shows on its diagnostics screen and what
// users paste into support tickets
type Report struct {
	AppName                string       `json:"appName"`
	AppVersion             string       `json:"appVersion"`
	Build                  string       `json:"build"`
	Author                 string       `json:"author,omitempty"`
	Platform               string       `json:"platform"`
	Arch                   string       `json:"arch"`
	GoVersion              string       `json:"goVersion"`
	Storage                storage.Info `json:"storage"`
	ConversationsDir       string       `json:"conversationsDir"`
	ConversationsCount     int          `json:"conversationsCount"`
	ConversationsSizeBytes int64        `json:"conversationsSizeBytes"`
	WebhookURL             *string      `json:"webhookUrl"`
	HasToken               bool         `json:"hasToken"`
	SettingsLocked         bool         `json:"settingsLocked"`
	WebhookLocked          bool         `json:"webhookLocked"`
	MockMode               bool         `json:"mockMode"`
	PendingRequests        int          `json:"pendingRequests"`
}

// Collector assembles diagnostics reports
type Collector struct {
	app      config.AppConfig
	client   models.ClientInfo
	mockMode bool
	settings SettingsSource
	storage  StorageInfo
	stats    ConversationStats
	pending  PendingCounter
	logger   *logrus.Logger
}

// NewCollector creates a diagnostics collector
func NewCollector(
	app config.AppConfig,
	client models.ClientInfo,
	mockMode bool,
	settings SettingsSource,
	storage StorageInfo,
	stats ConversationStats,
	pending PendingCounter,
	logger *logrus.Logger,
) *Collector {
	return &Collector{
		app:      app,
		client:   client,
		mockMode: mockMode,
		settings: settings,
		storage:  storage,
		stats:    stats,
		pending:  pending,
		logger:   logger,
	}
}

// Collect builds a report. Secrets never leave this function: the token
// is reduced to a flag and the webhook URL is sanitized.
func (c *Collector) Collect(ctx context.Context) Report {
	effective, err := c.settings.GetEffective(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Diagnostics could not read settings")
	}
	stats := c.stats.Stats()

	report := Report{
		AppName:                c.app.Name,
		AppVersion:             c.app.Version,
		Build:                  BuildRevision(),
		Author:                 c.app.Author,
		Platform:               c.client.Platform,
		Arch:                   runtime.GOARCH,
		GoVersion:              runtime.Version(),
		Storage:                c.storage.Info(),
		ConversationsDir:       stats.Directory,
		ConversationsCount:     stats.FileCount,
		ConversationsSizeBytes: stats.TotalBytes,
		HasToken:               effective.APIToken != "",
		SettingsLocked:         c.settings.IsLocked(),
		WebhookLocked:          c.settings.IsWebhookLocked(),
		MockMode:               c.mockMode,
		PendingRequests:        c.pending.Len(),
	}
	if effective.WebhookURL != "" {
		sanitized := SanitizeWebhookURL(effective.WebhookURL)
		report.WebhookURL = &sanitized
	}
	return report
}

// BuildRevision returns the linked-in commit, the VCS revision recorded
// by the Go toolchain, or "unknown"
func BuildRevision() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}
	return "unknown"
}
