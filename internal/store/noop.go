package store

import (
	"context"

	"github.com/google/uuid"

	"discowatch/internal/models"
)

// NoopHistoryStore is used when no history database is configured. Writes are
// dropped and reads report ErrDisabled.
type NoopHistoryStore struct{}

var _ HistoryStore = NoopHistoryStore{}

func NewNoopHistoryStore() HistoryStore {
	return NoopHistoryStore{}
}

func (NoopHistoryStore) RecordCheck(ctx context.Context, check *models.StatusCheck) error {
	return nil
}

func (NoopHistoryStore) ListChecks(ctx context.Context, filter CheckFilter) ([]*models.StatusCheck, error) {
	return nil, ErrDisabled
}

func (NoopHistoryStore) SaveWatch(ctx context.Context, w *models.Watch) error {
	return nil
}

func (NoopHistoryStore) GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	return nil, ErrDisabled
}

func (NoopHistoryStore) ListWatches(ctx context.Context, limit int) ([]*models.Watch, error) {
	return nil, ErrDisabled
}

func (NoopHistoryStore) Ping(ctx context.Context) error { return nil }

func (NoopHistoryStore) Close() error { return nil }
