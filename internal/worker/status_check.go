// Package worker runs the queued poll cycles of watches started with --async.
//
// Each task is one cycle: the wait already happened in the queue (ProcessIn), so
// the handler issues a single status request and either finishes the watch or
// enqueues the next cycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/store"
	"discowatch/internal/tasks"
)

// CycleChecker runs the status request of one cycle.
type CycleChecker interface {
	CheckCycle(ctx context.Context, watchID uuid.UUID, res models.Resource, attempt int) (models.Status, poller.Outcome, error)
}

// StatusCheckDeps holds dependencies for the status check handler.
type StatusCheckDeps struct {
	Checker   CycleChecker
	Watches   store.WatchStore
	JobClient store.JobClient
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

// RegisterHandlers registers the task handlers on mux.
func RegisterHandlers(mux *asynq.ServeMux, deps StatusCheckDeps) {
	mux.HandleFunc(tasks.TypeStatusCheck, HandleStatusCheck(deps))
}

// HandleStatusCheck returns the handler for tasks.TypeStatusCheck.
func HandleStatusCheck(deps StatusCheckDeps) func(context.Context, *asynq.Task) error {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseStatusCheckPayload(t.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log := deps.Logger.WithFields(logrus.Fields{
			"watch_id": p.WatchID,
			"resource": p.Resource.Key(),
			"attempt":  p.Attempt,
		})

		w, err := loadWatch(ctx, deps, p)
		if err != nil {
			return err
		}
		if w.State.Terminal() {
			log.WithField("state", w.State).Info("watch already finished, dropping cycle")
			return nil
		}
		if p.Expired(deps.Clock.Now()) {
			timeOut(ctx, deps, log, w, p)
			return nil
		}

		status, outcome, checkErr := deps.Checker.CheckCycle(ctx, p.WatchID, p.Resource, p.Attempt)

		// The watch may have been cancelled from another process during the request.
		if current, err := deps.Watches.GetWatch(ctx, p.WatchID); err == nil && current.State.Terminal() {
			log.WithField("state", current.State).Info("watch finished during the status check, dropping cycle")
			return nil
		}

		now := deps.Clock.Now()
		w.Checks = p.Attempt
		w.UpdatedAt = now
		w.State = models.WatchStateRunning

		if checkErr != nil {
			w.Error = checkErr.Error()
			retried, _ := asynq.GetRetryCount(ctx)
			if retried >= p.MaxConsecutiveErrors {
				finish(w, models.WatchStateFailed, checkErr.Error())
				save(ctx, deps, log, w)
				log.WithError(checkErr).WithField("retried", retried).Error("status check failed, giving up")
				return fmt.Errorf("%w: %w", checkErr, asynq.SkipRetry)
			}
			if !save(ctx, deps, log, w) {
				return nil
			}
			// The same cycle is retried by asynq.
			log.WithError(checkErr).WithField("retried", retried).Warn("status check failed")
			return checkErr
		}
		w.LastStatus = status
		w.Error = ""

		switch outcome {
		case poller.Done:
			finish(w, models.WatchStateCompleted, "")
			save(ctx, deps, log, w)
			log.WithField("status", status).Info("resource settled")
			return nil
		case poller.Failed:
			statusErr := &poller.StatusError{Status: status, Attempt: p.Attempt}
			finish(w, models.WatchStateFailed, statusErr.Error())
			save(ctx, deps, log, w)
			return fmt.Errorf("%w: %w", statusErr, asynq.SkipRetry)
		}

		if p.MaxChecks > 0 && p.Attempt >= p.MaxChecks {
			limitErr := &poller.MaxChecksError{Checks: p.Attempt, LastStatus: status}
			finish(w, models.WatchStateTimedOut, limitErr.Error())
			save(ctx, deps, log, w)
			log.Warn(limitErr.Error())
			return nil
		}
		if p.Expired(now.Add(p.Interval())) {
			timeOut(ctx, deps, log, w, p)
			return nil
		}

		if !save(ctx, deps, log, w) {
			return nil
		}
		next := p.Next()
		if _, err := deps.JobClient.EnqueueStatusCheck(ctx, next, next.Interval()); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("enqueue cycle %d: %w", next.Attempt, err)
		}
		log.WithField("status", status).Debug("resource still pending, next cycle enqueued")
		return nil
	}
}

// RetryDelay waits one poll interval before a failed cycle is retried.
// It is meant for asynq.Config.RetryDelayFunc.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if t.Type() == tasks.TypeStatusCheck {
		if p, perr := tasks.ParseStatusCheckPayload(t.Payload()); perr == nil {
			return p.Interval()
		}
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

func loadWatch(ctx context.Context, deps StatusCheckDeps, p tasks.StatusCheckPayload) (*models.Watch, error) {
	w, err := deps.Watches.GetWatch(ctx, p.WatchID)
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDisabled):
		now := deps.Clock.Now()
		return &models.Watch{
			ID:        p.WatchID,
			Resource:  p.Resource,
			State:     models.WatchStateQueued,
			StartedAt: now,
			UpdatedAt: now,
		}, nil
	default:
		return nil, fmt.Errorf("load watch %s: %w", p.WatchID, err)
	}
}

func finish(w *models.Watch, state models.WatchState, msg string) {
	w.State = state
	w.Error = msg
	at := w.UpdatedAt
	w.FinishedAt = &at
}

func timeOut(ctx context.Context, deps StatusCheckDeps, log logrus.FieldLogger, w *models.Watch, p tasks.StatusCheckPayload) {
	w.UpdatedAt = deps.Clock.Now()
	deadlineErr := fmt.Errorf("deadline %s passed: %w", p.Deadline.Format(time.RFC3339), context.DeadlineExceeded)
	finish(w, models.WatchStateTimedOut, deadlineErr.Error())
	save(ctx, deps, log, w)
	log.Warn(deadlineErr.Error())
}

// save persists w. It reports false when the stored watch already finished,
// in which case the cycle must not continue.
func save(ctx context.Context, deps StatusCheckDeps, log logrus.FieldLogger, w *models.Watch) bool {
	err := deps.Watches.SaveWatch(ctx, w)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrWatchFinished):
		log.Info("watch finished elsewhere, dropping cycle")
		return false
	default:
		log.WithError(err).Warn("failed to persist watch")
		return true
	}
}
