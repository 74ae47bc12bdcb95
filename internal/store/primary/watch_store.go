package primary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"discowatch/internal/models"
	"discowatch/internal/store"
)

// --- Watch Store Implementation ---

// SaveWatch inserts the watch or updates its progress columns unless it already finished.
func (s *StoreImpl) SaveWatch(ctx context.Context, w *models.Watch) error {
	query := `
		INSERT INTO watches (id, resource_key, kind, environment_id, collection_id, document_id, state, last_status, checks, error, started_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			last_status = excluded.last_status,
			checks = excluded.checks,
			error = excluded.error,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
		WHERE watches.state NOT IN ($14, $15, $16, $17)`

	var finished sql.NullTime
	if w.FinishedAt != nil {
		finished = sql.NullTime{Time: w.FinishedAt.UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(ctx, query,
		w.ID.String(),
		w.Resource.Key(),
		string(w.Resource.Kind),
		w.Resource.EnvironmentID,
		w.Resource.CollectionID,
		w.Resource.DocumentID,
		string(w.State),
		string(w.LastStatus),
		w.Checks,
		w.Error,
		w.StartedAt.UTC(),
		w.UpdatedAt.UTC(),
		finished,
		string(models.WatchStateCompleted),
		string(models.WatchStateFailed),
		string(models.WatchStateCancelled),
		string(models.WatchStateTimedOut),
	)
	if err != nil {
		return fmt.Errorf("failed to save watch %s: %w", w.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save watch %s: %w", w.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("watch %s: %w", w.ID, store.ErrWatchFinished)
	}
	return nil
}

const watchColumns = `id, kind, environment_id, collection_id, document_id, state, last_status, checks, error, started_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatch(row rowScanner) (*models.Watch, error) {
	var (
		w                         models.Watch
		id, kind, state, lastStat string
		finished                  sql.NullTime
	)
	if err := row.Scan(&id, &kind, &w.Resource.EnvironmentID, &w.Resource.CollectionID, &w.Resource.DocumentID,
		&state, &lastStat, &w.Checks, &w.Error, &w.StartedAt, &w.UpdatedAt, &finished); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid watch id %q: %w", id, err)
	}
	w.ID = parsed
	w.Resource.Kind = models.ResourceKind(kind)
	w.State = models.WatchState(state)
	w.LastStatus = models.Status(lastStat)
	if finished.Valid {
		t := finished.Time
		w.FinishedAt = &t
	}
	return &w, nil
}

// GetWatch loads a watch by id.
func (s *StoreImpl) GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watchColumns+` FROM watches WHERE id = $1`, id.String())
	w, err := scanWatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("watch %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get watch %s: %w", id, err)
	}
	return w, nil
}

// ListWatches returns the most recently started watches first.
func (s *StoreImpl) ListWatches(ctx context.Context, limit int) ([]*models.Watch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+watchColumns+` FROM watches ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list watches: %w", err)
	}
	defer rows.Close()

	var watches []*models.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watches: %w", err)
	}
	return watches, nil
}
