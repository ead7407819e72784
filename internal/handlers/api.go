package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/company-assistant-go/internal/middleware"
	"github.com/company-assistant-go/internal/services/chat"
	"github.com/company-assistant-go/internal/services/conversation"
	"github.com/company-assistant-go/internal/services/pending"
	"github.com/company-assistant-go/internal/services/settings"
	"github.com/company-assistant-go/internal/services/webhook"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx reply
type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter wires the handlers to their routes
func NewRouter(
	settingsHandler *SettingsHandler,
	conversationHandler *ConversationHandler,
	messageHandler *MessageHandler,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument(metrics, logger))

	r.HandleFunc("/health", health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/settings", settingsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.Save).Methods(http.MethodPut)
	api.HandleFunc("/device", settingsHandler.Device).Methods(http.MethodGet)
	api.HandleFunc("/client", settingsHandler.Client).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics", settingsHandler.Diagnostics).Methods(http.MethodGet)

	api.HandleFunc("/conversations", conversationHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/conversations", conversationHandler.New).Methods(http.MethodPost)
	api.HandleFunc("/conversations/last", conversationHandler.Last).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", conversationHandler.Load).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", conversationHandler.Save).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{id}", conversationHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/restore", conversationHandler.Restore).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/purge", conversationHandler.Purge).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/export", conversationHandler.Export).Methods(http.MethodGet)

	api.HandleFunc("/conversations/{id}/messages", messageHandler.Send).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages/{messageId}/retry", messageHandler.Retry).Methods(http.MethodPost)
	api.HandleFunc("/ask", messageHandler.Ask).Methods(http.MethodPost)
	api.HandleFunc("/requests/{requestId}/cancel", messageHandler.Cancel).Methods(http.MethodPost)

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records per-route metrics and logs each request
func instrument(metrics *middleware.Metrics, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := routeTemplate(r)
			metrics.RecordAPIRequest(route, rec.status)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"route":       route,
				"status":      rec.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Debug("API request")
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrLocked):
		return http.StatusForbidden
	case errors.Is(err, settings.ErrInvalidWebhookURL),
		errors.Is(err, settings.ErrInvalidTheme),
		errors.Is(err, conversation.ErrInvalidID),
		errors.Is(err, webhook.ErrEmptyQuestion),
		errors.Is(err, webhook.ErrEmptyConversationID):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNotRetryable),
		errors.Is(err, pending.ErrAlreadyRegistered):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
