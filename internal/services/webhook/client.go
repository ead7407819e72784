package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/i18n"
	"github.com/company-assistant-go/internal/middleware"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/pending"
	"github.com/company-assistant-go/internal/services/settings"
	"github.com/company-assistant-go/pkg/logger"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 10 << 20

var (
	ErrEmptyQuestion       = errors.New("question must not be blank")
	ErrEmptyConversationID = errors.New("conversation id is required")
)

// SettingsSource supplies the effective settings and the device id
type SettingsSource interface {
	GetEffective(ctx context.Context) (models.Settings, error)
	DeviceID(ctx context.Context) (string, error)
}

// Messages resolves localized user-facing text
type Messages interface {
	Get(lang, messageID string, data map[string]interface{}) string
}

// AskRequest is one question sent on behalf of a conversation
type AskRequest struct {
	Question       string
	ConversationID string
	// RequestID identifies the call for cancellation. Generated when empty.
	RequestID string
}

type askPayload struct {
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id"`
	User           askUser           `json:"user"`
	Client         models.ClientInfo `json:"client"`
}

type askUser struct {
	Username string `json:"username"`
	DeviceID string `json:"device_id"`
}

// attemptOutcome is the result of one HTTP exchange
type attemptOutcome struct {
	result    models.AskResult
	retryable bool
	label     string
	// transport is set when no complete response was read
	transport bool
}

// Client sends questions to the configured webhook
type Client struct {
	settings    SettingsSource
	registry    *pending.Registry
	messages    Messages
	language    string
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	httpClient  *http.Client
	timeout     time.Duration
	retryDelays []time.Duration
	mockMode    bool
	userAgent   string
	client      models.ClientInfo

	lookupUsername func() string
}

// NewClient creates a webhook client
func NewClient(
	cfg *config.WebhookConfig,
	app *config.AppConfig,
	source SettingsSource,
	registry *pending.Registry,
	messages Messages,
	language string,
	metrics *middleware.Metrics,
	log *logrus.Logger,
) *Client {
	delays := make([]time.Duration, len(cfg.RetryDelays))
	copy(delays, cfg.RetryDelays)

	return &Client{
		settings:    source,
		registry:    registry,
		messages:    messages,
		language:    language,
		metrics:     metrics,
		logger:      log,
		httpClient:  &http.Client{},
		timeout:     cfg.Timeout,
		retryDelays: delays,
		mockMode:    cfg.MockMode && mockModeAvailable,
		userAgent:   fmt.Sprintf("%s/%s", app.Name, app.Version),
		client: models.ClientInfo{
			AppVersion: app.Version,
			Platform:   platformName(runtime.GOOS),
		},
		lookupUsername: osUsername,
	}
}

// ClientInfo describes this build to the webhook
func (c *Client) ClientInfo() models.ClientInfo {
	return c.client
}

// MockMode reports whether answers are produced locally
func (c *Client) MockMode() bool {
	return c.mockMode
}

// Ask sends one question. Every outcome other than a caller mistake is
// reported as an AskResult; the error return is reserved for a blank
// question, a missing conversation id or a request id already in use.
func (c *Client) Ask(ctx context.Context, req AskRequest) (models.AskResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return models.AskResult{}, ErrEmptyQuestion
	}
	if req.ConversationID == "" {
		return models.AskResult{}, ErrEmptyConversationID
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	log := logger.WithRequest(c.logger, req.ConversationID, req.RequestID)

	effective, err := c.settings.GetEffective(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to read settings, using defaults")
	}

	if !settings.IsValidWebhookURL(effective.WebhookURL) {
		log.Warn("Webhook URL is missing or invalid")
		result := c.failure(models.ErrorInvalidURL, 0)
		c.metrics.RecordWebhookResult(string(result.Kind), 0)
		return result, nil
	}

	if c.mockMode {
		log.Info("Answering in mock mode")
		result := c.mockAnswer()
		c.metrics.RecordWebhookResult("mock", 0)
		return result, nil
	}

	arb := newArbiter(ctx)
	defer arb.close()

	if err := c.registry.Register(req.RequestID, func() { arb.trip(reasonUser) }); err != nil {
		return models.AskResult{}, fmt.Errorf("failed to register request: %w", err)
	}
	defer c.registry.Release(req.RequestID)

	timer := time.AfterFunc(c.timeout, func() { arb.trip(reasonTimeout) })
	defer timer.Stop()
	stopWatching := context.AfterFunc(ctx, func() { arb.trip(reasonUser) })
	defer stopWatching()

	payload, err := json.Marshal(askPayload{
		Message:        req.Question,
		ConversationID: req.ConversationID,
		User: askUser{
			Username: c.username(effective),
			DeviceID: c.deviceID(ctx, log),
		},
		Client: c.client,
	})
	if err != nil {
		return models.AskResult{}, fmt.Errorf("failed to encode request: %w", err)
	}

	started := time.Now()
	result := c.exchange(arb, effective, payload, log)
	duration := time.Since(started)

	label := "answer"
	if !result.OK() {
		label = string(result.Kind)
	}
	c.metrics.RecordWebhookResult(label, duration)

	log.WithFields(logrus.Fields{
		"duration_ms": duration.Milliseconds(),
		"timedOut":    result.Kind == models.ErrorTimeout,
		"result":      label,
		"status":      result.HTTPStatus,
	}).Info("Webhook call finished")

	return result, nil
}

// exchange runs the attempt loop until an answer, a terminal failure,
// exhausted retries or an abort.
func (c *Client) exchange(arb *arbiter, effective models.Settings, payload []byte, log *logrus.Entry) models.AskResult {
	attempts := len(c.retryDelays) + 1

	for attempt := 1; ; attempt++ {
		log.WithFields(logrus.Fields{
			"attempt":  attempt,
			"hasToken": effective.APIToken != "",
		}).Info("Sending webhook request")

		outcome := c.attempt(arb.ctx, effective, payload)
		if outcome.transport {
			if reason := arb.Reason(); reason != reasonNone {
				c.metrics.RecordWebhookAttempt("aborted")
				return c.abortResult(reason)
			}
		}
		c.metrics.RecordWebhookAttempt(outcome.label)

		if !outcome.retryable || attempt >= attempts {
			return outcome.result
		}

		delay := c.retryDelays[attempt-1]
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"outcome": outcome.label,
		}).Warn("Webhook attempt failed, retrying")

		wait := time.NewTimer(delay)
		select {
		case <-arb.ctx.Done():
			wait.Stop()
			return c.abortResult(arb.Reason())
		case <-wait.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, effective models.Settings, payload []byte) attemptOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, effective.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return attemptOutcome{result: c.failure(models.ErrorInvalidURL, 0), label: "invalid_url"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if effective.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+effective.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportFailure(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return attemptOutcome{result: c.failure(models.ErrorHTTP, resp.StatusCode), label: "http_4xx"}
	case resp.StatusCode >= 500:
		return attemptOutcome{result: c.failure(models.ErrorHTTP, resp.StatusCode), retryable: true, label: "http_5xx"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return attemptOutcome{result: c.failure(models.ErrorHTTP, resp.StatusCode), label: "http_4xx"}
	}

	reply, ok := decodeReply(body)
	if !ok {
		return attemptOutcome{result: c.failure(models.ErrorMalformedResponse, resp.StatusCode), label: "malformed"}
	}
	if reply.HasError || strings.TrimSpace(reply.Answer) == "" {
		result := c.failure(models.ErrorMalformedResponse, resp.StatusCode)
		if reply.Error != "" {
			result.Error = reply.Error
		}
		result.Sources = reply.Sources
		return attemptOutcome{result: result, label: "malformed"}
	}

	return attemptOutcome{result: models.Answered(reply.Answer, reply.Sources), label: "success"}
}

func (c *Client) transportFailure(err error) attemptOutcome {
	kind, retryable := classifyTransportError(err)
	c.logger.WithError(err).Debug("Webhook transport error")
	label := "network"
	if kind == models.ErrorTimeout {
		label = "timeout"
	}
	return attemptOutcome{result: c.failure(kind, 0), retryable: retryable, label: label, transport: true}
}

func (c *Client) abortResult(reason abortReason) models.AskResult {
	if reason == reasonTimeout {
		return c.failure(models.ErrorTimeout, 0)
	}
	return c.failure(models.ErrorCanceled, 0)
}

// failure builds a classified result with its localized message
func (c *Client) failure(kind models.ErrorKind, status int) models.AskResult {
	var msg string
	switch kind {
	case models.ErrorInvalidURL:
		msg = c.messages.Get(c.language, i18n.MsgErrorInvalidURL, nil)
	case models.ErrorNetwork:
		msg = c.messages.Get(c.language, i18n.MsgErrorNetwork, nil)
	case models.ErrorTimeout:
		msg = c.messages.Get(c.language, i18n.MsgErrorTimeout, nil)
	case models.ErrorCanceled:
		msg = c.messages.Get(c.language, i18n.MsgErrorCanceled, nil)
	case models.ErrorHTTP:
		if status == http.StatusUnauthorized {
			msg = c.messages.Get(c.language, i18n.MsgErrorUnauthorized, nil)
		} else {
			msg = c.messages.Get(c.language, i18n.MsgErrorHTTP, map[string]interface{}{"Status": status})
		}
	case models.ErrorMalformedResponse:
		msg = c.messages.Get(c.language, i18n.MsgErrorMalformed, nil)
	}

	result := models.Failed(kind, msg)
	result.HTTPStatus = status
	return result
}

func (c *Client) mockAnswer() models.AskResult {
	docsChunk, faqChunk := models.NumericChunk(1), models.NumericChunk(2)
	docsScore, faqScore := 0.92, 0.87
	return models.Answered(
		c.messages.Get(c.language, i18n.MsgMockAnswer, nil),
		[]models.SourceItem{
			{
				Source: c.messages.Get(c.language, i18n.MsgMockSourceDocs, nil),
				Chunk:  &docsChunk,
				Score:  &docsScore,
				Text:   c.messages.Get(c.language, i18n.MsgMockSourceDocsTxt, nil),
			},
			{
				Source: c.messages.Get(c.language, i18n.MsgMockSourceFAQ, nil),
				Chunk:  &faqChunk,
				Score:  &faqScore,
				Text:   c.messages.Get(c.language, i18n.MsgMockSourceFAQTxt, nil),
			},
		},
	)
}

func (c *Client) username(effective models.Settings) string {
	if name := strings.TrimSpace(effective.Username); name != "" {
		return name
	}
	return c.lookupUsername()
}

func (c *Client) deviceID(ctx context.Context, log *logrus.Entry) string {
	id, err := c.settings.DeviceID(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to read device id")
		return ""
	}
	return id
}

func osUsername() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	name := u.Username
	// Windows reports DOMAIN\user
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// platformName reports the platform the way the desktop shell names it
func platformName(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}
