package models

import (
	"errors"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")

	ErrUnknownKind     = errors.New("unknown resource kind")
	ErrUnexpectedType  = errors.New("unexpected resource type in status response")
	ErrWatchNotRunning = errors.New("watch is not running")
)
