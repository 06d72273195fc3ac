// Package admin provides the operator endpoints: health, readiness, runtime
// log level and a read-only view of privileged users. Everything under /api
// requires the ops key.
package admin

import (
	"context"
	"log/slog"

	"github.com/sipico/checklist-bff/internal/storage"
)

// Storage interface for admin operations
type Storage interface {
	Ping(ctx context.Context) error
	ListPrivilegedUsers(ctx context.Context) ([]*storage.User, error)
}

// Handler provides admin endpoints
type Handler struct {
	storage  Storage
	keyHash  string
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// NewHandler creates an admin handler. keyHash is the bcrypt hash of the ops
// key; when empty the /api routes are disabled.
func NewHandler(storage Storage, keyHash string, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		storage:  storage,
		keyHash:  keyHash,
		logLevel: logLevel,
		logger:   logger,
	}
}
