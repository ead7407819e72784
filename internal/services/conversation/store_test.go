package conversation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/company-assistant-go/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.ConversationConfig{
		Dir:        filepath.Join(dir, "conversations"),
		TrashDir:   filepath.Join(dir, "conversations-trash"),
		IndexLimit: 10,
	}
	return NewStore(cfg, storage.NewMemoryStorage(config.MemoryConfig{}), logger.Discard())
}

func sampleMessages() []models.Message {
	chunk := models.NumericChunk(3)
	textChunk := models.TextChunk("intro")
	score := 0.91
	at := time.Date(2024, 5, 1, 9, 30, 0, 123000000, time.UTC)

	return []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "Jak zresetować hasło do VPN?", CreatedAt: at},
		{
			ID:        "m2",
			Role:      models.RoleAssistant,
			Content:   "Użyj portalu **self-service**.",
			CreatedAt: at.Add(4 * time.Second),
			Sources: []models.SourceItem{
				{Source: "Wiki IT", Chunk: &chunk, Score: &score, Text: "Reset hasła"},
				{Source: "FAQ", Chunk: &textChunk},
			},
		},
		{
			ID:           "m3",
			Role:         models.RoleAssistant,
			Content:      "Timed out",
			CreatedAt:    at.Add(time.Minute),
			IsError:      true,
			RetryPayload: &models.RetryPayload{Question: "again?", ConversationID: "c"},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cases := map[string][]models.Message{
		"empty":  {},
		"sample": sampleMessages(),
	}
	for name, messages := range cases {
		id := NewID()
		if err := s.Write(id, messages); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		if !s.Exists(id) {
			t.Fatalf("%s: expected conversation to exist", name)
		}
		got := s.Read(id)
		if !reflect.DeepEqual(got, messages) {
			t.Fatalf("%s: round trip mismatch\n got: %+v\nwant: %+v", name, got, messages)
		}
	}
}

func TestWriteStoresEmptySourcesAsAbsent(t *testing.T) {
	s := newTestStore(t)
	id := NewID()

	in := []models.Message{{
		ID:        "m1",
		Role:      models.RoleAssistant,
		Content:   "Brak źródeł.",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		Sources:   []models.SourceItem{},
	}}
	if err := s.Write(id, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if in[0].Sources == nil {
		t.Fatalf("write must not modify the caller's messages")
	}

	got := s.Read(id)
	if len(got) != 1 || got[0].Sources != nil {
		t.Fatalf("expected nil sources, got %+v", got)
	}
	if !reflect.DeepEqual(got, normalizeMessages(in)) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, normalizeMessages(in))
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir(), id+fileExt))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(raw), "sources") {
		t.Fatalf("empty sources should not be written: %s", raw)
	}
}

func TestLocksAreReleased(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := NewID()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := s.Write(id, sampleMessages()); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				s.Read(id)
			}
			if _, err := s.SoftDelete(id); err != nil {
				t.Errorf("soft delete: %v", err)
			}
			if err := s.HardDelete(id); err != nil {
				t.Errorf("hard delete: %v", err)
			}
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.locks); n != 0 {
		t.Fatalf("expected no lock entries after all operations, got %d", n)
	}
}

func TestReadMissingAndCorrupt(t *testing.T) {
	s := newTestStore(t)

	missing := s.Read(NewID())
	if missing == nil || len(missing) != 0 {
		t.Fatalf("missing conversation should read as empty, got %+v", missing)
	}

	id := NewID()
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), id+".json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	if got := s.Read(id); len(got) != 0 {
		t.Fatalf("corrupt conversation should read as empty, got %+v", got)
	}
	if got := s.Read("../../etc/passwd"); len(got) != 0 {
		t.Fatalf("invalid id should read as empty")
	}
}

func TestReadDocumentForm(t *testing.T) {
	s := newTestStore(t)
	id := NewID()
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := `{"conversationId":"` + id + `","messages":[{"id":"m1","role":"user","content":"hej","createdAt":"2024-05-01T09:30:00Z"}]}`
	if err := os.WriteFile(filepath.Join(s.Dir(), id+".json"), []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := s.Read(id)
	if len(got) != 1 || got[0].Content != "hej" {
		t.Fatalf("unexpected messages %+v", got)
	}
}

func TestWriteRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	err := s.Write("../escape", nil)
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestWriteFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := &config.ConversationConfig{Dir: filepath.Join(blocker, "conversations"), TrashDir: filepath.Join(dir, "trash")}
	s := NewStore(cfg, storage.NewMemoryStorage(config.MemoryConfig{}), logger.Discard())

	if err := s.Write(NewID(), sampleMessages()); err == nil {
		t.Fatalf("expected write error when the directory cannot be created")
	}
}

func TestSoftDeleteRestore(t *testing.T) {
	s := newTestStore(t)
	id := NewID()
	messages := sampleMessages()
	if err := s.Write(id, messages); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, err := s.SoftDelete(id)
	if err != nil || !ok {
		t.Fatalf("soft delete: ok=%v err=%v", ok, err)
	}
	if s.Exists(id) {
		t.Fatalf("conversation should not exist after soft delete")
	}
	if !s.InTrash(id) {
		t.Fatalf("conversation should be in trash")
	}

	ok, err = s.Restore(id)
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if !s.Exists(id) {
		t.Fatalf("conversation should exist after restore")
	}
	if got := s.Read(id); !reflect.DeepEqual(got, messages) {
		t.Fatalf("restored messages differ: %+v", got)
	}

	if ok, _ := s.Restore(id); ok {
		t.Fatalf("second restore should report false")
	}
	if ok, _ := s.SoftDelete(NewID()); ok {
		t.Fatalf("soft delete of unknown id should report false")
	}
}

func TestHardDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	id := NewID()
	if err := s.Write(id, sampleMessages()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.HardDelete(id); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if s.Exists(id) {
		t.Fatalf("conversation still exists")
	}
	if err := s.HardDelete(id); err != nil {
		t.Fatalf("second hard delete: %v", err)
	}

	trashed := NewID()
	s.Write(trashed, nil)
	s.SoftDelete(trashed)
	if err := s.HardDelete(trashed); err != nil {
		t.Fatalf("hard delete trashed: %v", err)
	}
	if s.InTrash(trashed) {
		t.Fatalf("trash copy should be gone")
	}
}

func TestUpsertIndexOrderAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := models.ConversationMeta{ID: "A", Title: "a", UpdatedAt: base.Add(1 * time.Second)}
	b2 := models.ConversationMeta{ID: "B", Title: "b", UpdatedAt: base.Add(2 * time.Second)}
	a3 := models.ConversationMeta{ID: "A", Title: "a again", UpdatedAt: base.Add(3 * time.Second)}

	for _, meta := range []models.ConversationMeta{a1, b2, a3} {
		if _, err := s.UpsertIndex(ctx, meta, 2); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.ListIndex(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []models.ConversationMeta{a3, b2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("index mismatch\n got: %+v\nwant: %+v", got, want)
	}

	c4 := models.ConversationMeta{ID: "C", UpdatedAt: base.Add(4 * time.Second)}
	got, _ = s.UpsertIndex(ctx, c4, 2)
	if len(got) != 2 || got[0].ID != "C" || got[1].ID != "A" {
		t.Fatalf("expected [C A], got %+v", got)
	}
}

func TestUpsertIndexKeepsRecencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.UpsertIndex(ctx, models.ConversationMeta{ID: "new", UpdatedAt: base.Add(time.Hour)}, 0)
	got, _ := s.UpsertIndex(ctx, models.ConversationMeta{ID: "old", UpdatedAt: base}, 0)
	if got[0].ID != "new" || got[1].ID != "old" {
		t.Fatalf("index must stay sorted by updatedAt, got %+v", got)
	}
}

func TestRemoveFromIndexAndLastID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	s.UpsertIndex(ctx, models.ConversationMeta{ID: "A", UpdatedAt: now}, 0)
	s.UpsertIndex(ctx, models.ConversationMeta{ID: "B", UpdatedAt: now.Add(time.Second)}, 0)

	if err := s.RemoveFromIndex(ctx, "A"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := s.ListIndex(ctx)
	if len(got) != 1 || got[0].ID != "B" {
		t.Fatalf("expected [B], got %+v", got)
	}

	if id, err := s.LastID(ctx); err != nil || id != "" {
		t.Fatalf("expected no last id, got %q, %v", id, err)
	}
	if err := s.SetLastID(ctx, "B"); err != nil {
		t.Fatalf("set last id: %v", err)
	}
	if id, _ := s.LastID(ctx); id != "B" {
		t.Fatalf("expected B, got %q", id)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	if stats := s.Stats(); stats.FileCount != 0 || stats.TotalBytes != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
	s.Write(NewID(), sampleMessages())
	s.Write(NewID(), nil)

	stats := s.Stats()
	if stats.FileCount != 2 || stats.TotalBytes == 0 || stats.Directory != s.Dir() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
