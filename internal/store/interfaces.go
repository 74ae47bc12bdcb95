package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"discowatch/internal/models"
	"discowatch/internal/tasks"
)

// --- Job Client ---

type JobClient interface {
	// EnqueueStatusCheck schedules one poll cycle to run after delay.
	EnqueueStatusCheck(ctx context.Context, payload tasks.StatusCheckPayload, delay time.Duration) (*asynq.TaskInfo, error)
	Close() error
}

// --- Check History Store ---

// CheckFilter narrows ListChecks. Zero fields match everything.
type CheckFilter struct {
	ResourceKey string
	WatchID     *uuid.UUID
	Limit       int
}

type CheckHistoryStore interface {
	RecordCheck(ctx context.Context, check *models.StatusCheck) error
	ListChecks(ctx context.Context, filter CheckFilter) ([]*models.StatusCheck, error)

	Ping(ctx context.Context) error
	Close() error
}

// --- Watch Store ---

// WatchStore persists watches so queued watches can be inspected from any process.
type WatchStore interface {
	// SaveWatch inserts or updates w. A watch stored in a terminal state is never
	// overwritten; SaveWatch then returns ErrWatchFinished.
	SaveWatch(ctx context.Context, w *models.Watch) error
	GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error)
	ListWatches(ctx context.Context, limit int) ([]*models.Watch, error)
}

// HistoryStore is implemented by the SQL store and the noop store.
type HistoryStore interface {
	CheckHistoryStore
	WatchStore
}
