package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Janitor finishes soft deletes. A trashed conversation is purged once
// the undo window passes without a restore, and a scheduled sweep
// removes trash older than the retention period.
type Janitor struct {
	store      *Store
	undoWindow time.Duration
	retention  time.Duration
	schedule   string
	logger     *logrus.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	cron    *cron.Cron

	// purged is called after a trashed conversation is removed
	purged func(id string)
}

// NewJanitor creates a janitor for store
func NewJanitor(store *Store, cfg *config.ConversationConfig, logger *logrus.Logger) *Janitor {
	return &Janitor{
		store:      store,
		undoWindow: cfg.UndoWindow,
		retention:  cfg.TrashRetention,
		schedule:   cfg.PurgeSchedule,
		logger:     logger,
		pending:    make(map[string]*time.Timer),
	}
}

// OnPurged registers a callback run after each purge
func (j *Janitor) OnPurged(fn func(id string)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.purged = fn
}

// Schedule arranges for the trashed copy of id to be purged after the
// undo window. Scheduling again restarts the window.
func (j *Janitor) Schedule(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if t, ok := j.pending[id]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(j.undoWindow, func() {
		j.mu.Lock()
		if j.pending[id] != timer {
			j.mu.Unlock()
			return
		}
		delete(j.pending, id)
		j.mu.Unlock()

		j.discard(id)
	})
	j.pending[id] = timer
}

// Cancel stops a scheduled purge. It reports whether one was pending.
func (j *Janitor) Cancel(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	t, ok := j.pending[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(j.pending, id)
	return true
}

// Pending returns the number of scheduled purges
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *Janitor) discard(id string) {
	removed, err := j.store.DiscardTrashed(id)
	if err != nil {
		j.logger.WithError(err).WithField("conversation_id", id).Error("Failed to purge trashed conversation")
		return
	}
	if !removed {
		return
	}
	j.logger.WithField("conversation_id", id).Info("Purged trashed conversation")

	j.mu.Lock()
	purged := j.purged
	j.mu.Unlock()
	if purged != nil {
		purged(id)
	}
}

// PurgeExpired removes trash older than the retention period and returns
// how many records went.
func (j *Janitor) PurgeExpired() (int, error) {
	ids, err := j.store.TrashedIDs(j.store.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		j.mu.Lock()
		_, scheduled := j.pending[id]
		j.mu.Unlock()
		if scheduled {
			continue
		}
		removed, err := j.store.DiscardTrashed(id)
		if err != nil {
			j.logger.WithError(err).WithField("conversation_id", id).Warn("Failed to purge expired trash")
			continue
		}
		if removed {
			count++
		}
	}
	return count, nil
}

// Start runs one sweep and then sweeps on the configured schedule
func (j *Janitor) Start(ctx context.Context) error {
	if n, err := j.PurgeExpired(); err != nil {
		j.logger.WithError(err).Warn("Startup trash sweep failed")
	} else if n > 0 {
		j.logger.WithField("count", n).Info("Removed expired trash on startup")
	}

	if j.schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		n, err := j.PurgeExpired()
		if err != nil {
			j.logger.WithError(err).Warn("Scheduled trash sweep failed")
			return
		}
		if n > 0 {
			j.logger.WithField("count", n).Info("Removed expired trash")
		}
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", j.schedule, err)
	}
	c.Start()

	j.mu.Lock()
	j.cron = c
	j.mu.Unlock()

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Stop halts the sweep schedule and drops pending purges. Trashed
// records stay in the trash and are swept on the next start.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	for id, t := range j.pending {
		t.Stop()
		delete(j.pending, id)
	}
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
