package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/pkg/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestJanitorPurgesAfterUndoWindow(t *testing.T) {
	s := newTestStore(t)
	j := NewJanitor(s, &config.ConversationConfig{UndoWindow: 20 * time.Millisecond}, logger.Discard())
	var purged atomic.Value
	j.OnPurged(func(id string) { purged.Store(id) })

	id := NewID()
	s.Write(id, sampleMessages())
	s.SoftDelete(id)
	j.Schedule(id)

	waitFor(t, func() bool { return !s.InTrash(id) })
	waitFor(t, func() bool { v, _ := purged.Load().(string); return v == id })
	if j.Pending() != 0 {
		t.Fatalf("expected no pending purges, got %d", j.Pending())
	}
}

func TestJanitorCancelKeepsConversation(t *testing.T) {
	s := newTestStore(t)
	j := NewJanitor(s, &config.ConversationConfig{UndoWindow: 30 * time.Millisecond}, logger.Discard())

	id := NewID()
	s.Write(id, sampleMessages())
	s.SoftDelete(id)
	j.Schedule(id)

	if !j.Cancel(id) {
		t.Fatalf("expected a pending purge to cancel")
	}
	if ok, err := s.Restore(id); !ok || err != nil {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	time.Sleep(80 * time.Millisecond)

	if !s.Exists(id) {
		t.Fatalf("restored conversation was purged")
	}
	if j.Cancel(id) {
		t.Fatalf("second cancel should report false")
	}
}

func TestJanitorPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	j := NewJanitor(s, &config.ConversationConfig{UndoWindow: time.Hour, TrashRetention: 24 * time.Hour}, logger.Discard())

	old, fresh, scheduled := NewID(), NewID(), NewID()
	for _, id := range []string{old, fresh, scheduled} {
		s.Write(id, nil)
	}

	s.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	s.SoftDelete(old)
	s.SoftDelete(scheduled)
	s.now = time.Now
	s.SoftDelete(fresh)
	j.Schedule(scheduled)
	defer j.Stop()

	n, err := j.PurgeExpired()
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}
	if s.InTrash(old) {
		t.Fatalf("expired trash should be gone")
	}
	if !s.InTrash(fresh) || !s.InTrash(scheduled) {
		t.Fatalf("fresh and scheduled trash must stay")
	}
}

func TestJanitorStart(t *testing.T) {
	s := newTestStore(t)
	j := NewJanitor(s, &config.ConversationConfig{TrashRetention: time.Hour, PurgeSchedule: "@every 1h"}, logger.Discard())

	id := NewID()
	s.Write(id, nil)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	s.SoftDelete(id)
	s.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := j.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer j.Stop()

	if s.InTrash(id) {
		t.Fatalf("startup sweep should remove expired trash")
	}

	bad := NewJanitor(s, &config.ConversationConfig{PurgeSchedule: "not a schedule"}, logger.Discard())
	if err := bad.Start(ctx); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}
