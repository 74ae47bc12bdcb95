package primary

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"discowatch/internal/models"
	"discowatch/internal/store"
)

var _ store.HistoryStore = (*StoreImpl)(nil)

// --- Check History Store Implementation ---

// RecordCheck inserts one status observation and sets check.ID.
func (s *StoreImpl) RecordCheck(ctx context.Context, check *models.StatusCheck) error {
	query := `
		INSERT INTO status_checks (watch_id, resource_key, kind, environment_id, collection_id, document_id, attempt, status, error, source, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now()
	}
	var watchID sql.NullString
	if check.WatchID != nil {
		watchID = sql.NullString{String: check.WatchID.String(), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		watchID,
		check.ResourceKey,
		string(check.Kind),
		check.EnvironmentID,
		check.CollectionID,
		check.DocumentID,
		check.Attempt,
		string(check.Status),
		check.Error,
		check.Source,
		check.CheckedAt.UTC(),
	).Scan(&check.ID)
	if err != nil {
		return fmt.Errorf("failed to record status check for %s: %w", check.ResourceKey, err)
	}
	return nil
}

// ListChecks returns the most recent observations first.
func (s *StoreImpl) ListChecks(ctx context.Context, filter store.CheckFilter) ([]*models.StatusCheck, error) {
	var (
		where []string
		args  []interface{}
	)
	next := func() string { return "$" + strconv.Itoa(len(args)) }
	if filter.ResourceKey != "" {
		args = append(args, filter.ResourceKey)
		where = append(where, "resource_key = "+next())
	}
	if filter.WatchID != nil {
		args = append(args, filter.WatchID.String())
		where = append(where, "watch_id = "+next())
	}

	query := `SELECT id, watch_id, resource_key, kind, environment_id, collection_id, document_id, attempt, status, error, source, checked_at FROM status_checks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY checked_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT " + next()
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list status checks: %w", err)
	}
	defer rows.Close()

	var checks []*models.StatusCheck
	for rows.Next() {
		var (
			c       models.StatusCheck
			watchID sql.NullString
			kind    string
			status  string
		)
		if err := rows.Scan(&c.ID, &watchID, &c.ResourceKey, &kind, &c.EnvironmentID, &c.CollectionID,
			&c.DocumentID, &c.Attempt, &status, &c.Error, &c.Source, &c.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status check: %w", err)
		}
		if watchID.Valid {
			id, err := uuid.Parse(watchID.String)
			if err != nil {
				return nil, fmt.Errorf("status check %d has invalid watch_id: %w", c.ID, err)
			}
			c.WatchID = &id
		}
		c.Kind = models.ResourceKind(kind)
		c.Status = models.Status(status)
		checks = append(checks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status checks: %w", err)
	}
	return checks, nil
}
