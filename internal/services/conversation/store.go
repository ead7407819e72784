package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	indexKey  = "conversationsIndex"
	lastIDKey = "lastConversationId"

	fileExt = ".json"
)

// ErrInvalidID is returned for a conversation id that is not a UUID
var ErrInvalidID = errors.New("conversation id must be a UUID")

// Stats summarizes the primary conversation directory
type Stats struct {
	Directory  string `json:"directory"`
	FileCount  int    `json:"files"`
	TotalBytes int64  `json:"totalSize"`
}

// Store persists one JSON document per conversation and keeps the
// recency index in the key-value store.
type Store struct {
	dir        string
	trashDir   string
	indexLimit int
	kv         storage.Storage
	logger     *logrus.Logger

	mu    sync.Mutex
	locks map[string]*idLock

	indexMu sync.Mutex

	now func() time.Time
}

// NewStore creates a conversation store
func NewStore(cfg *config.ConversationConfig, kv storage.Storage, logger *logrus.Logger) *Store {
	limit := cfg.IndexLimit
	if limit <= 0 {
		limit = 10
	}
	return &Store{
		dir:        cfg.Dir,
		trashDir:   cfg.TrashDir,
		indexLimit: limit,
		kv:         kv,
		logger:     logger,
		locks:      make(map[string]*idLock),
		now:        time.Now,
	}
}

// ValidID reports whether id can name a conversation
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && !strings.ContainsAny(id, `/\`)
}

// NewID returns a fresh conversation id
func NewID() string {
	return uuid.NewString()
}

// Dir returns the primary conversation directory
func (s *Store) Dir() string {
	return s.dir
}

// IndexLimit returns the configured index cap
func (s *Store) IndexLimit() int {
	return s.indexLimit
}

// idLock serializes file operations on one conversation. It lives in the
// map only while someone holds or waits for it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s *Store) trashPath(id string) string {
	return filepath.Join(s.trashDir, id+fileExt)
}

// Exists reports whether the conversation has a primary record
func (s *Store) Exists(id string) bool {
	if !ValidID(id) {
		return false
	}
	info, err := os.Stat(s.path(id))
	return err == nil && info.Mode().IsRegular()
}

// Read returns the messages of a conversation. A missing, unreadable or
// corrupt record reads as an empty conversation.
func (s *Store) Read(id string) []models.Message {
	messages := []models.Message{}
	if !ValidID(id) {
		return messages
	}

	unlock := s.lock(id)
	defer unlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).WithField("conversation_id", id).Warn("Failed to read conversation")
		}
		return messages
	}

	decoded, err := decodeMessages(data)
	if err != nil {
		s.logger.WithError(err).WithField("conversation_id", id).Warn("Conversation record is corrupt, treating as empty")
		return messages
	}
	return decoded
}

// decodeMessages accepts the bare message array and the
// {conversationId, messages} document.
func decodeMessages(data []byte) ([]models.Message, error) {
	messages := []models.Message{}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var doc models.Conversation
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.Messages != nil {
			messages = doc.Messages
		}
		return messages, nil
	}
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// Write replaces the conversation record, creating the directory when
// needed. An empty sources list is stored as absent and reads back nil.
func (s *Store) Write(id string, messages []models.Message) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := json.MarshalIndent(normalizeMessages(messages), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	unlock := s.lock(id)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create conversations directory: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path(id), data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", id, err)
	}
	return nil
}

// normalizeMessages returns the form a record reads back as: a non-nil
// list where messages without citations carry nil sources. The caller's
// slice is not modified.
func normalizeMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if len(out[i].Sources) == 0 {
			out[i].Sources = nil
		}
	}
	return out
}

// SoftDelete moves the record to the trash. It reports false when there
// was nothing to move.
func (s *Store) SoftDelete(id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}

	unlock := s.lock(id)
	defer unlock()

	src := s.path(id)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat conversation: %w", err)
	}

	if err := os.MkdirAll(s.trashDir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create trash directory: %w", err)
	}
	dst := s.trashPath(id)
	if err := os.Rename(src, dst); err != nil {
		return false, fmt.Errorf("failed to move conversation to trash: %w", err)
	}

	// The trash retention clock starts at deletion.
	now := s.now()
	if err := os.Chtimes(dst, now, now); err != nil {
		s.logger.WithError(err).WithField("conversation_id", id).Debug("Failed to touch trashed conversation")
	}
	return true, nil
}

// Restore moves the record back from the trash. It reports false when
// the trash holds no copy.
func (s *Store) Restore(id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}

	unlock := s.lock(id)
	defer unlock()

	src := s.trashPath(id)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat trashed conversation: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	if err := os.Rename(src, s.path(id)); err != nil {
		return false, fmt.Errorf("failed to restore conversation: %w", err)
	}
	return true, nil
}

// HardDelete removes the primary and trash copies. Missing files are not
// an error.
func (s *Store) HardDelete(id string) error {
	if !ValidID(id) {
		return nil
	}

	unlock := s.lock(id)
	defer unlock()

	return errors.Join(removeIfExists(s.path(id)), removeIfExists(s.trashPath(id)))
}

// DiscardTrashed removes only the trash copy. It reports whether a copy
// was removed.
func (s *Store) DiscardTrashed(id string) (bool, error) {
	if !ValidID(id) {
		return false, nil
	}

	unlock := s.lock(id)
	defer unlock()

	err := os.Remove(s.trashPath(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to remove trashed conversation: %w", err)
}

// InTrash reports whether a trash copy exists
func (s *Store) InTrash(id string) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Stat(s.trashPath(id))
	return err == nil
}

// TrashedIDs lists trashed conversations deleted before cutoff
func (s *Store) TrashedIDs(before time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.trashDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), fileExt)
		if !ValidID(id) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Stats counts the primary records. An unreadable directory counts as
// empty.
func (s *Store) Stats() Stats {
	stats := Stats{Directory: s.dir}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.FileCount++
		stats.TotalBytes += info.Size()
	}
	return stats
}

// ListIndex returns the recency index, most recent first
func (s *Store) ListIndex(ctx context.Context) ([]models.ConversationMeta, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.readIndexLocked(ctx)
}

func (s *Store) readIndexLocked(ctx context.Context) ([]models.ConversationMeta, error) {
	index := []models.ConversationMeta{}
	if _, err := s.kv.Get(ctx, indexKey, &index); err != nil {
		return []models.ConversationMeta{}, fmt.Errorf("failed to read conversation index: %w", err)
	}
	if index == nil {
		index = []models.ConversationMeta{}
	}
	return index, nil
}

// UpsertIndex puts meta at the front of the index, drops any older entry
// for the same id, keeps the index sorted by UpdatedAt descending and
// truncates it to limit (the configured cap when limit <= 0).
func (s *Store) UpsertIndex(ctx context.Context, meta models.ConversationMeta, limit int) ([]models.ConversationMeta, error) {
	if limit <= 0 {
		limit = s.indexLimit
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	current, err := s.readIndexLocked(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Rebuilding conversation index")
		current = nil
	}

	next := make([]models.ConversationMeta, 0, len(current)+1)
	next = append(next, meta)
	for _, entry := range current {
		if entry.ID != meta.ID {
			next = append(next, entry)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].UpdatedAt.After(next[j].UpdatedAt)
	})
	if len(next) > limit {
		next = next[:limit]
	}

	if err := s.kv.Set(ctx, indexKey, next); err != nil {
		return nil, fmt.Errorf("failed to write conversation index: %w", err)
	}
	return next, nil
}

// RemoveFromIndex drops id from the index
func (s *Store) RemoveFromIndex(ctx context.Context, id string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	current, err := s.readIndexLocked(ctx)
	if err != nil {
		return err
	}
	next := make([]models.ConversationMeta, 0, len(current))
	for _, entry := range current {
		if entry.ID != id {
			next = append(next, entry)
		}
	}
	if len(next) == len(current) {
		return nil
	}
	if err := s.kv.Set(ctx, indexKey, next); err != nil {
		return fmt.Errorf("failed to write conversation index: %w", err)
	}
	return nil
}

// LastID returns the id of the conversation opened last, if any
func (s *Store) LastID(ctx context.Context) (string, error) {
	var id string
	if _, err := s.kv.Get(ctx, lastIDKey, &id); err != nil {
		return "", fmt.Errorf("failed to read last conversation id: %w", err)
	}
	return id, nil
}

// SetLastID records the conversation opened last
func (s *Store) SetLastID(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, lastIDKey, id); err != nil {
		return fmt.Errorf("failed to write last conversation id: %w", err)
	}
	return nil
}
