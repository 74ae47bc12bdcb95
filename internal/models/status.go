package models

import "strings"

// Status is the vendor-defined status of an asynchronously built resource.
// The remote service owns it; this module only reads it.
type Status string

const (
	StatusActive               Status = "active"
	StatusPending              Status = "pending"
	StatusProcessing           Status = "processing"
	StatusMaintenance          Status = "maintenance"
	StatusNotFound             Status = "not found"
	StatusFailed               Status = "failed"
	StatusAvailable            Status = "available"
	StatusAvailableWithNotices Status = "available with notices"
)

// Normalize lower-cases and trims a status so that "ACTIVE" and "active" compare equal.
func Normalize(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

func (s Status) String() string {
	return string(s)
}

// Is compares two statuses case-insensitively.
func (s Status) Is(other Status) bool {
	return Normalize(string(s)) == Normalize(string(other))
}
