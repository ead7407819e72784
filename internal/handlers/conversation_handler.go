package handlers

import (
	"net/http"

	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/chat"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ConversationHandler serves conversation lifecycle routes
type ConversationHandler struct {
	chat   *chat.Service
	logger *logrus.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(service *chat.Service, logger *logrus.Logger) *ConversationHandler {
	return &ConversationHandler{chat: service, logger: logger}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	index, err := h.chat.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

func (h *ConversationHandler) New(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.New(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Last(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.LoadLast(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Load(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Save overwrites a conversation with the shell's message list
func (h *ConversationHandler) Save(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []models.Message `json:"messages"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.chat.Save(r.Context(), id, body.Messages); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.chat.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, chat.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *ConversationHandler) Restore(w http.ResponseWriter, r *http.Request) {
	ok, err := h.chat.Restore(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not in trash")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

func (h *ConversationHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Purge(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export returns the plain-text transcript as a download
func (h *ConversationHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	text, err := h.chat.Export(id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="conversation-`+id+`.txt"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}
