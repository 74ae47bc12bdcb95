package store

import "errors"

var (
	ErrNotFound  = errors.New("store: resource not found")
	ErrDuplicate = errors.New("store: duplicate resource")
	// ErrDisabled is returned by the noop store when no database is configured.
	ErrDisabled = errors.New("store: history store is not configured")
	// ErrWatchFinished is returned by SaveWatch when the stored watch is already terminal.
	ErrWatchFinished = errors.New("store: watch already finished")
)
