package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/company-assistant-go/internal/i18n"
	"github.com/company-assistant-go/internal/middleware"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/conversation"
	"github.com/company-assistant-go/internal/services/webhook"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRetryable    = errors.New("message cannot be retried")
)

// Asker sends a question to the knowledge base
type Asker interface {
	Ask(ctx context.Context, req webhook.AskRequest) (models.AskResult, error)
}

// Messages resolves localized user-facing text
type Messages interface {
	Get(lang, messageID string, data map[string]interface{}) string
}

// SendResult is the outcome of a send or a retry. Messages always holds
// the full in-memory conversation, also when saving it failed.
type SendResult struct {
	ConversationID   string           `json:"conversationId"`
	UserMessage      *models.Message  `json:"userMessage,omitempty"`
	AssistantMessage *models.Message  `json:"assistantMessage,omitempty"`
	Result           models.AskResult `json:"result"`
	Messages         []models.Message `json:"messages"`
	SaveError        string           `json:"saveError,omitempty"`
}

// Service runs the conversation flow on top of the store and the
// webhook client
type Service struct {
	store    *conversation.Store
	janitor  *conversation.Janitor
	asker    Asker
	messages Messages
	language string
	metrics  *middleware.Metrics
	logger   *logrus.Logger

	now   func() time.Time
	newID func() string

	// unsaved holds conversations whose last save failed, so the next
	// send or retry continues from what the user saw.
	unsavedMu sync.Mutex
	unsaved   map[string][]models.Message
}

// NewService creates the chat service
func NewService(
	store *conversation.Store,
	janitor *conversation.Janitor,
	asker Asker,
	messages Messages,
	language string,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Service {
	s := &Service{
		store:    store,
		janitor:  janitor,
		asker:    asker,
		messages: messages,
		language: language,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		unsaved:  make(map[string][]models.Message),
	}
	janitor.OnPurged(func(id string) {
		s.forgetUnsaved(id)
		if err := store.RemoveFromIndex(context.Background(), id); err != nil {
			logger.WithError(err).WithField("conversation_id", id).Warn("Failed to drop purged conversation from index")
		}
	})
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) placeholder() string {
	return s.messages.Get(s.language, i18n.MsgTitlePlaceholder, nil)
}

// current returns the conversation as last produced by the service,
// preferring a copy that could not be saved over the stored record.
func (s *Service) current(id string) []models.Message {
	s.unsavedMu.Lock()
	pending, ok := s.unsaved[id]
	s.unsavedMu.Unlock()
	if ok {
		out := make([]models.Message, len(pending))
		copy(out, pending)
		return out
	}
	return s.store.Read(id)
}

func (s *Service) keepUnsaved(id string, messages []models.Message) {
	kept := make([]models.Message, len(messages))
	copy(kept, messages)
	s.unsavedMu.Lock()
	s.unsaved[id] = kept
	s.unsavedMu.Unlock()
}

func (s *Service) forgetUnsaved(id string) {
	s.unsavedMu.Lock()
	delete(s.unsaved, id)
	s.unsavedMu.Unlock()
}

// List returns the recency index
func (s *Service) List(ctx context.Context) ([]models.ConversationMeta, error) {
	return s.store.ListIndex(ctx)
}

// LoadLast opens the conversation used last, or starts a new one when
// there is none.
func (s *Service) LoadLast(ctx context.Context) (models.Conversation, error) {
	id, err := s.store.LastID(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read last conversation id")
	}
	if id != "" && s.store.Exists(id) {
		return models.Conversation{ConversationID: id, Messages: s.current(id)}, nil
	}
	return s.New(ctx)
}

// New starts an empty conversation and makes it the last one
func (s *Service) New(ctx context.Context) (models.Conversation, error) {
	id := conversation.NewID()
	if err := s.store.Write(id, nil); err != nil {
		return models.Conversation{}, err
	}
	if err := s.store.SetLastID(ctx, id); err != nil {
		s.logger.WithError(err).Warn("Failed to record last conversation")
	}
	s.logger.WithField("conversation_id", id).Info("Started new conversation")
	return models.Conversation{ConversationID: id, Messages: []models.Message{}}, nil
}

// Load opens a conversation and makes it the last one
func (s *Service) Load(ctx context.Context, id string) (models.Conversation, error) {
	if !conversation.ValidID(id) {
		return models.Conversation{}, conversation.ErrInvalidID
	}
	if !s.store.Exists(id) {
		return models.Conversation{}, ErrNotFound
	}
	if err := s.store.SetLastID(ctx, id); err != nil {
		s.logger.WithError(err).Warn("Failed to record last conversation")
	}
	return models.Conversation{ConversationID: id, Messages: s.current(id)}, nil
}

// Save replaces a conversation with messages supplied by the shell
func (s *Service) Save(ctx context.Context, id string, messages []models.Message) error {
	if !conversation.ValidID(id) {
		return conversation.ErrInvalidID
	}
	return s.persist(ctx, id, messages)
}

// persist writes the conversation and refreshes the derived state. Only
// the write itself can fail the save; the index is rebuilt on the next
// save if updating it fails. A failed write keeps the messages in memory
// until a later save succeeds.
func (s *Service) persist(ctx context.Context, id string, messages []models.Message) error {
	if err := s.store.Write(id, messages); err != nil {
		s.metrics.RecordConversationSave("error")
		s.logger.WithError(err).WithField("conversation_id", id).Error("Failed to save conversation")
		s.keepUnsaved(id, messages)
		return err
	}
	s.metrics.RecordConversationSave("ok")
	s.forgetUnsaved(id)

	if err := s.store.SetLastID(ctx, id); err != nil {
		s.logger.WithError(err).Warn("Failed to record last conversation")
	}
	if len(messages) > 0 {
		meta := conversation.Meta(id, messages, s.placeholder(), s.now())
		if _, err := s.store.UpsertIndex(ctx, meta, 0); err != nil {
			s.logger.WithError(err).WithField("conversation_id", id).Warn("Failed to update conversation index")
		}
	}
	return nil
}

// Send appends the question, asks the webhook and appends the answer or
// the failure. A canceled ask leaves only the question. Turns that could
// not be saved are carried into the next send.
func (s *Service) Send(ctx context.Context, id, question, requestID string) (SendResult, error) {
	if !conversation.ValidID(id) {
		return SendResult{}, conversation.ErrInvalidID
	}
	if strings.TrimSpace(question) == "" {
		return SendResult{}, webhook.ErrEmptyQuestion
	}

	messages := s.current(id)
	user := models.Message{
		ID:        s.newID(),
		Role:      models.RoleUser,
		Content:   question,
		CreatedAt: s.timestamp(),
	}
	messages = append(messages, user)

	out := SendResult{ConversationID: id, UserMessage: &user, Messages: messages}
	if err := s.persist(ctx, id, messages); err != nil {
		out.SaveError = s.saveFailedMessage()
	}

	result, err := s.asker.Ask(ctx, webhook.AskRequest{Question: question, ConversationID: id, RequestID: requestID})
	if err != nil {
		return out, err
	}
	out.Result = result

	if result.Kind == models.ErrorCanceled {
		return out, nil
	}

	assistant := s.assistantMessage(result, question, id)
	messages = append(messages, assistant)
	out.AssistantMessage = &assistant
	out.Messages = messages

	if err := s.persist(ctx, id, messages); err != nil {
		out.SaveError = s.saveFailedMessage()
	}
	return out, nil
}

// Retry resends the question of a failed assistant message. On success
// the failed message is replaced in place; otherwise the conversation is
// left unchanged.
func (s *Service) Retry(ctx context.Context, id, messageID, requestID string) (SendResult, error) {
	if !conversation.ValidID(id) {
		return SendResult{}, conversation.ErrInvalidID
	}

	messages := s.current(id)
	pos := -1
	for i, m := range messages {
		if m.ID == messageID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return SendResult{}, ErrMessageNotFound
	}
	failed := messages[pos]
	if failed.Role != models.RoleAssistant || !failed.IsError || failed.RetryPayload == nil {
		return SendResult{}, ErrNotRetryable
	}

	question := failed.RetryPayload.Question
	result, err := s.asker.Ask(ctx, webhook.AskRequest{Question: question, ConversationID: id, RequestID: requestID})
	if err != nil {
		return SendResult{}, err
	}

	out := SendResult{ConversationID: id, Result: result, Messages: messages}
	if !result.OK() {
		return out, nil
	}

	replacement := s.assistantMessage(result, question, id)
	replacement.ID = failed.ID
	updated := make([]models.Message, len(messages))
	copy(updated, messages)
	updated[pos] = replacement

	out.AssistantMessage = &replacement
	out.Messages = updated
	if err := s.persist(ctx, id, updated); err != nil {
		out.SaveError = s.saveFailedMessage()
	}
	return out, nil
}

func (s *Service) assistantMessage(result models.AskResult, question, conversationID string) models.Message {
	m := models.Message{
		ID:        s.newID(),
		Role:      models.RoleAssistant,
		CreatedAt: s.timestamp(),
		Sources:   result.Sources,
	}
	if len(m.Sources) == 0 {
		m.Sources = nil
	}
	if result.OK() {
		m.Content = result.Answer
		return m
	}

	m.Content = result.Error
	m.IsError = true
	if result.Kind.Retryable() {
		m.RetryPayload = &models.RetryPayload{Question: question, ConversationID: conversationID}
	}
	return m
}

func (s *Service) saveFailedMessage() string {
	return s.messages.Get(s.language, i18n.MsgErrorSaveFailed, nil)
}

// Delete moves a conversation to the trash and schedules its purge
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.SoftDelete(id)
	if err != nil || !ok {
		return ok, err
	}
	s.forgetUnsaved(id)
	if err := s.store.RemoveFromIndex(ctx, id); err != nil {
		s.logger.WithError(err).Warn("Failed to drop deleted conversation from index")
	}
	s.janitor.Schedule(id)
	s.logger.WithField("conversation_id", id).Info("Conversation moved to trash")
	return true, nil
}

// Restore brings a trashed conversation back before its purge
func (s *Service) Restore(ctx context.Context, id string) (bool, error) {
	s.janitor.Cancel(id)
	ok, err := s.store.Restore(id)
	if err != nil || !ok {
		return ok, err
	}

	messages := s.store.Read(id)
	if len(messages) > 0 {
		updatedAt := messages[len(messages)-1].CreatedAt
		meta := conversation.Meta(id, messages, s.placeholder(), updatedAt)
		if _, err := s.store.UpsertIndex(ctx, meta, 0); err != nil {
			s.logger.WithError(err).Warn("Failed to re-index restored conversation")
		}
	}
	s.logger.WithField("conversation_id", id).Info("Conversation restored")
	return true, nil
}

// Purge deletes a conversation permanently
func (s *Service) Purge(ctx context.Context, id string) error {
	s.janitor.Cancel(id)
	if err := s.store.HardDelete(id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.forgetUnsaved(id)
	if err := s.store.RemoveFromIndex(ctx, id); err != nil {
		s.logger.WithError(err).Warn("Failed to drop purged conversation from index")
	}
	return nil
}

// Export renders a conversation as a plain-text transcript
func (s *Service) Export(id string) (string, error) {
	if !s.store.Exists(id) {
		return "", ErrNotFound
	}
	return conversation.FormatTranscript(id, s.current(id)), nil
}
