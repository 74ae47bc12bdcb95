package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"discowatch/internal/models"
)

// Task type constants
const (
	// TypeStatusCheck is one poll cycle of a queued watch: a single status request
	// followed, while the resource is still pending, by the next cycle.
	TypeStatusCheck = "discovery:check_status"
)

// StatusCheckPayload is the payload of a TypeStatusCheck task.
type StatusCheckPayload struct {
	WatchID    uuid.UUID       `json:"watch_id"`
	Resource   models.Resource `json:"resource"`
	Attempt    int             `json:"attempt"`
	IntervalMS int64           `json:"interval_ms"`
	MaxChecks  int             `json:"max_checks,omitempty"`
	// MaxConsecutiveErrors is how many failed status requests of one cycle are retried.
	MaxConsecutiveErrors int        `json:"max_consecutive_errors,omitempty"`
	Deadline             *time.Time `json:"deadline,omitempty"`
}

// IntervalMillis converts an interval to whole milliseconds, rounding up so a
// cycle never waits less than d.
func IntervalMillis(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// Interval returns the wait before the next cycle.
func (p StatusCheckPayload) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// TaskID is unique per cycle so a cycle can't be enqueued twice.
func (p StatusCheckPayload) TaskID() string {
	return fmt.Sprintf("%s:%d", p.WatchID, p.Attempt)
}

// Next returns the payload of the following cycle.
func (p StatusCheckPayload) Next() StatusCheckPayload {
	n := p
	n.Attempt++
	return n
}

// Expired reports whether the watch deadline has passed at now.
func (p StatusCheckPayload) Expired(now time.Time) bool {
	return p.Deadline != nil && !now.Before(*p.Deadline)
}

func (p StatusCheckPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ParseStatusCheckPayload decodes and validates a task payload.
func ParseStatusCheckPayload(data []byte) (StatusCheckPayload, error) {
	var p StatusCheckPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal status check payload: %w", err)
	}
	if p.WatchID == uuid.Nil {
		return p, fmt.Errorf("%w: watch_id is required", models.ErrValidation)
	}
	if p.Attempt < 1 {
		return p, fmt.Errorf("%w: attempt must be positive", models.ErrValidation)
	}
	if p.IntervalMS <= 0 {
		return p, fmt.Errorf("%w: interval_ms must be positive", models.ErrValidation)
	}
	if p.MaxChecks < 0 || p.MaxConsecutiveErrors < 0 {
		return p, fmt.Errorf("%w: max_checks and max_consecutive_errors must not be negative", models.ErrValidation)
	}
	if err := p.Resource.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
