package handlers

import (
	"net/http"

	"github.com/company-assistant-go/internal/middleware"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/chat"
	"github.com/company-assistant-go/internal/services/pending"
	"github.com/company-assistant-go/internal/services/webhook"
	"github.com/company-assistant-go/pkg/markdown"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// MessageHandler serves the ask, send, retry and cancel routes
type MessageHandler struct {
	chat        *chat.Service
	client      *webhook.Client
	registry    *pending.Registry
	rateLimiter middleware.RateLimiter
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	service *chat.Service,
	client *webhook.Client,
	registry *pending.Registry,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		chat:        service,
		client:      client,
		registry:    registry,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		logger:      logger,
	}
}

type askBody struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
	RequestID      string `json:"requestId"`
}

type askResponse struct {
	models.AskResult
	HTML string `json:"html,omitempty"`
}

type sendResponse struct {
	chat.SendResult
	HTML string `json:"html,omitempty"`
}

func (h *MessageHandler) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.rateLimiter.Allow(key) {
		return true
	}
	h.metrics.RecordRateLimitExceeded(routeTemplate(r))
	writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
	return false
}

// Ask forwards one question to the webhook without touching any
// conversation record
func (h *MessageHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.allow(w, r, body.ConversationID) {
		return
	}

	result, err := h.client.Ask(r.Context(), webhook.AskRequest{
		Question:       body.Question,
		ConversationID: body.ConversationID,
		RequestID:      body.RequestID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := askResponse{AskResult: result}
	if result.OK() {
		resp.HTML = markdown.ToHTML(result.Answer)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Send appends a question to a conversation and answers it
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	if !h.allow(w, r, id) {
		return
	}

	result, err := h.chat.Send(r.Context(), id, body.Question, body.RequestID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(result))
}

// Retry resends the question behind a failed answer
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	vars := mux.Vars(r)
	if !h.allow(w, r, vars["id"]) {
		return
	}

	result, err := h.chat.Retry(r.Context(), vars["id"], vars["messageId"], body.RequestID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(result))
}

// Cancel aborts an in-flight ask by its request id
func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	canceled := h.registry.Cancel(requestID)
	h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"canceled":   canceled,
	}).Info("Cancel requested")
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (h *MessageHandler) render(result chat.SendResult) sendResponse {
	resp := sendResponse{SendResult: result}
	if m := result.AssistantMessage; m != nil && !m.IsError {
		resp.HTML = markdown.ToHTML(m.Content)
	}
	return resp
}
