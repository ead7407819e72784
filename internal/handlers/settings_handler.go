package handlers

import (
	"net/http"

	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/diagnostics"
	"github.com/company-assistant-go/internal/services/settings"
	"github.com/sirupsen/logrus"
)

// SettingsHandler serves settings, device identity and diagnostics
type SettingsHandler struct {
	provider    *settings.Provider
	diagnostics *diagnostics.Collector
	client      models.ClientInfo
	logger      *logrus.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(
	provider *settings.Provider,
	collector *diagnostics.Collector,
	client models.ClientInfo,
	logger *logrus.Logger,
) *SettingsHandler {
	return &SettingsHandler{
		provider:    provider,
		diagnostics: collector,
		client:      client,
		logger:      logger,
	}
}

// Get returns the effective settings and their lock state
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.provider.State(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Save validates and stores the settings
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var body models.Settings
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.provider.Save(r.Context(), body); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	state, err := h.provider.State(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Device returns the install's device id
func (h *SettingsHandler) Device(w http.ResponseWriter, r *http.Request) {
	id, err := h.provider.DeviceID(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deviceId": id})
}

// Client returns the version and platform sent to the webhook
func (h *SettingsHandler) Client(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client)
}

// Diagnostics returns the sanitized diagnostics report
func (h *SettingsHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.diagnostics.Collect(r.Context()))
}
