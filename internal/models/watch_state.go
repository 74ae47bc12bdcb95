package models

/*
Watch state constants. A watch is the service-level record of one poll task
running against a single remote resource.
*/

// WatchState is the lifecycle state of a watch.
type WatchState string

const (
	WatchStateQueued    WatchState = "queued"
	WatchStateRunning   WatchState = "running"
	WatchStateCompleted WatchState = "completed"
	WatchStateFailed    WatchState = "failed"
	WatchStateCancelled WatchState = "cancelled"
	WatchStateTimedOut  WatchState = "timed_out"
)

// Terminal reports whether no further checks will run for the watch.
func (s WatchState) Terminal() bool {
	switch s {
	case WatchStateCompleted, WatchStateFailed, WatchStateCancelled, WatchStateTimedOut:
		return true
	}
	return false
}

// Check sources recorded with every status check.
const (
	CheckSourceCLI    = "cli"
	CheckSourceAPI    = "api"
	CheckSourceWorker = "worker"
)
