package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedType is returned for an unknown storage.type
var ErrUnsupportedType = errors.New("unsupported storage type")

// Storage is the durable key-value store behind settings, the device id
// and the conversation index. Values are JSON documents.
type Storage interface {
	// Get decodes the value stored under key into dst and reports
	// whether the key existed.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Info describes where the data lives, for diagnostics
type Info struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Format string `json:"format,omitempty"`
}

// Manager selects a backend and instruments it
type Manager struct {
	storage Storage
	info    Info
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewManager creates the backend named by cfg.Type
func NewManager(cfg *config.StorageConfig, metrics *middleware.Metrics, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{
		metrics: metrics,
		logger:  logger,
	}

	switch cfg.Type {
	case "file":
		fileStorage, err := NewFileStorage(cfg.File.Path, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = fileStorage
		manager.info = Info{Type: "file", Path: cfg.File.Path, Format: "json"}
	case "memory":
		manager.storage = NewMemoryStorage(cfg.Memory)
		manager.info = Info{Type: "memory"}
	case "redis":
		redisStorage, err := NewRedisStorage(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.info = Info{Type: "redis", Path: cfg.Redis.Addr}
	case "sqlite":
		sqliteStorage, err := NewSQLiteStorage(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = sqliteStorage
		manager.info = Info{Type: "sqlite", Path: cfg.SQLite.Path, Format: "sqlite3"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}

	logger.WithFields(logrus.Fields{
		"type": manager.info.Type,
		"path": manager.info.Path,
	}).Info("Storage initialized")

	return manager, nil
}

// NewManagerWith wraps an already constructed backend
func NewManagerWith(storage Storage, info Info, metrics *middleware.Metrics, logger *logrus.Logger) *Manager {
	return &Manager{storage: storage, info: info, metrics: metrics, logger: logger}
}

func (m *Manager) observe(operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.logger.WithError(err).WithField("operation", operation).Warn("Storage operation failed")
	}
	m.metrics.RecordStorageOperation(operation, status, time.Since(started))
}

func (m *Manager) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	started := time.Now()
	found, err := m.storage.Get(ctx, key, dst)
	m.observe("get", started, err)
	return found, err
}

func (m *Manager) Set(ctx context.Context, key string, value interface{}) error {
	started := time.Now()
	err := m.storage.Set(ctx, key, value)
	m.observe("set", started, err)
	return err
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	started := time.Now()
	err := m.storage.Delete(ctx, key)
	m.observe("delete", started, err)
	return err
}

func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	started := time.Now()
	keys, err := m.storage.Keys(ctx)
	m.observe("keys", started, err)
	return keys, err
}

func (m *Manager) Close() error {
	return m.storage.Close()
}

// Info reports the backend type and location
func (m *Manager) Info() Info {
	info := m.info
	switch info.Type {
	case "file", "sqlite":
		_, err := os.Stat(info.Path)
		info.Exists = err == nil
	default:
		info.Exists = true
	}
	return info
}
