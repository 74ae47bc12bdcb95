// Package poller waits for asynchronous server-side jobs by sampling their status.
//
// A poll cycle waits the configured interval, issues exactly one status request and
// classifies the result. Pending statuses schedule another cycle; terminal statuses,
// request failures, an exhausted check budget or a cancelled context end the loop.
// Only one status request is ever in flight per Poll call.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"discowatch/internal/models"
)

// DefaultInterval is the wait before every status check.
const DefaultInterval = 30 * time.Second

// Outcome is the classification of one observed status.
type Outcome int

const (
	Pending Outcome = iota
	Done
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// CheckFunc issues one read-only status request.
type CheckFunc func(ctx context.Context) (models.Status, error)

// Evaluator classifies a status as pending, done or failed.
type Evaluator func(models.Status) Outcome

// UntilStatus returns an Evaluator that is Done once the status equals one of want.
// Every other status is Pending.
func UntilStatus(want ...models.Status) Evaluator {
	return func(s models.Status) Outcome {
		for _, w := range want {
			if s.Is(w) {
				return Done
			}
		}
		return Pending
	}
}

// Check is one observation made by the poller.
type Check struct {
	Attempt int
	Status  models.Status
	Outcome Outcome
	Err     error
	At      time.Time
}

// Observer receives every check as it happens. It runs on the polling goroutine.
type Observer func(Check)

// Result describes a poll that reached a terminal success status.
type Result struct {
	Status  models.Status
	Checks  int
	Elapsed time.Duration
}

// Config bounds a poll loop. Zero values mean: 30s interval, no check limit and
// no tolerance for failing status requests.
type Config struct {
	Interval             time.Duration
	MaxChecks            int
	MaxConsecutiveErrors int
}

// Poller runs poll loops.
type Poller struct {
	cfg      Config
	clock    clock.Clock
	log      logrus.FieldLogger
	observer Observer
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger used for per-cycle debug output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Poller) { p.log = l }
}

// WithObserver registers a function called after every check.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

// New creates a Poller.
func New(cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxChecks < 0 {
		cfg.MaxChecks = 0
	}
	if cfg.MaxConsecutiveErrors < 0 {
		cfg.MaxConsecutiveErrors = 0
	}
	p := &Poller{
		cfg:   cfg,
		clock: clock.RealClock{},
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// With returns a copy of the poller with extra options applied.
func (p *Poller) With(opts ...Option) *Poller {
	cp := *p
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// WithConfig returns a copy of the poller using cfg. Zero fields keep the current value.
func (p *Poller) WithConfig(cfg Config) *Poller {
	cp := *p
	if cfg.Interval > 0 {
		cp.cfg.Interval = cfg.Interval
	}
	if cfg.MaxChecks > 0 {
		cp.cfg.MaxChecks = cfg.MaxChecks
	}
	if cfg.MaxConsecutiveErrors > 0 {
		cp.cfg.MaxConsecutiveErrors = cfg.MaxConsecutiveErrors
	}
	return &cp
}

// Poll blocks until eval reports Done or Failed, a check fails, the check budget
// runs out, or ctx ends.
func (p *Poller) Poll(ctx context.Context, check CheckFunc, eval Evaluator) (Result, error) {
	if check == nil || eval == nil {
		return Result{}, errors.New("poller: check and evaluator are required")
	}

	start := p.clock.Now()
	var (
		res        Result
		lastStatus models.Status
		errStreak  int
	)

	for attempt := 1; ; attempt++ {
		if p.cfg.MaxChecks > 0 && attempt > p.cfg.MaxChecks {
			res.Elapsed = p.clock.Since(start)
			return res, &MaxChecksError{Checks: res.Checks, LastStatus: lastStatus}
		}

		p.log.WithField("attempt", attempt).Debugf("checking status in %s", p.cfg.Interval)
		if err := p.wait(ctx); err != nil {
			res.Elapsed = p.clock.Since(start)
			return res, err
		}

		status, err := check(ctx)
		res.Checks = attempt
		now := p.clock.Now()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Elapsed = now.Sub(start)
				return res, ctxErr
			}
			errStreak++
			p.notify(Check{Attempt: attempt, Err: err, At: now})
			if errStreak > p.cfg.MaxConsecutiveErrors {
				res.Elapsed = now.Sub(start)
				return res, &CheckError{Attempt: attempt, Err: err}
			}
			p.log.WithFields(logrus.Fields{"attempt": attempt, "error": err}).Warn("status check failed, will retry")
			continue
		}
		errStreak = 0

		outcome := eval(status)
		lastStatus = status
		res.Status = status
		p.notify(Check{Attempt: attempt, Status: status, Outcome: outcome, At: now})
		p.log.WithFields(logrus.Fields{"attempt": attempt, "status": status, "outcome": outcome}).Debug("status checked")

		switch outcome {
		case Done:
			res.Elapsed = now.Sub(start)
			return res, nil
		case Failed:
			res.Elapsed = now.Sub(start)
			return res, &StatusError{Status: status, Attempt: attempt}
		}
	}
}

func (p *Poller) wait(ctx context.Context) error {
	timer := p.clock.NewTimer(p.cfg.Interval)
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func (p *Poller) notify(c Check) {
	if p.observer != nil {
		p.observer(c)
	}
}

// CheckError reports a status request that failed at the transport or API level.
// It is never returned for a resource that is merely not ready yet.
type CheckError struct {
	Attempt int
	Err     error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("status check %d failed: %v", e.Attempt, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

// StatusError reports a terminal failure status returned by the remote service.
type StatusError struct {
	Status  models.Status
	Attempt int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resource reached failure status %q after %d checks", e.Status, e.Attempt)
}

// ErrMaxChecks is matched by errors.Is when the check budget ran out.
var ErrMaxChecks = errors.New("poller: maximum number of checks reached")

// MaxChecksError carries the last status seen before the budget ran out.
type MaxChecksError struct {
	Checks     int
	LastStatus models.Status
}

func (e *MaxChecksError) Error() string {
	return fmt.Sprintf("%v after %d checks (last status %q)", ErrMaxChecks, e.Checks, e.LastStatus)
}

func (e *MaxChecksError) Is(target error) bool { return target == ErrMaxChecks }

// IsTransportError reports whether err came from a failed status request.
func IsTransportError(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}

// IsFailedStatus reports whether err is a terminal failure status.
func IsFailedStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
