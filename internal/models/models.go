package models

import (
	"time"

	"github.com/google/uuid"
)

// Watch is the observable state of one poll task.
type Watch struct {
	ID         uuid.UUID  `json:"id"`
	Resource   Resource   `json:"resource"`
	State      WatchState `json:"state"`
	LastStatus Status     `json:"last_status,omitempty"`
	Checks     int        `json:"checks"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusCheck is one recorded status observation.
type StatusCheck struct {
	ID            int64        `db:"id" json:"id"`
	WatchID       *uuid.UUID   `db:"watch_id" json:"watch_id,omitempty"` // nullable for one-shot checks
	ResourceKey   string       `db:"resource_key" json:"resource_key"`
	Kind          ResourceKind `db:"kind" json:"kind"`
	EnvironmentID string       `db:"environment_id" json:"environment_id"`
	CollectionID  string       `db:"collection_id" json:"collection_id"`
	DocumentID    string       `db:"document_id" json:"document_id,omitempty"`
	Attempt       int          `db:"attempt" json:"attempt"`
	Status        Status       `db:"status" json:"status,omitempty"`
	Error         string       `db:"error" json:"error,omitempty"`
	Source        string       `db:"source" json:"source"`
	CheckedAt     time.Time    `db:"checked_at" json:"checked_at"`
}
