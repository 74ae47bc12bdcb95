package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"discowatch/internal/discovery"
	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/store"
	"discowatch/internal/tasks"
)

// StatusChecker is the read-only part of the Discovery client.
type StatusChecker interface {
	GetStopwordListStatus(ctx context.Context, environmentID, collectionID string) (*discovery.TokenDictStatusResponse, error)
	GetTokenizationDictionaryStatus(ctx context.Context, environmentID, collectionID string) (*discovery.TokenDictStatusResponse, error)
	GetCollection(ctx context.Context, environmentID, collectionID string) (*discovery.Collection, error)
	GetDocumentStatus(ctx context.Context, environmentID, collectionID, documentID string) (*discovery.DocumentStatus, error)
}

// EvaluatorFor returns the terminal-status predicate of a resource kind.
// Word lists and collections are done once active, documents once available.
// "failed" ends every kind; "not found" ends word lists, which report it when
// no custom list exists.
func EvaluatorFor(kind models.ResourceKind) poller.Evaluator {
	return func(s models.Status) poller.Outcome {
		switch {
		case s.Is(models.StatusFailed):
			return poller.Failed
		case kind.IsWordList() && s.Is(models.StatusNotFound):
			return poller.Failed
		}
		switch kind {
		case models.KindDocument:
			if s.Is(models.StatusAvailable) || s.Is(models.StatusAvailableWithNotices) {
				return poller.Done
			}
		default:
			if s.Is(models.StatusActive) {
				return poller.Done
			}
		}
		return poller.Pending
	}
}

type checkSourceKey struct{}

// WithCheckSource tags the history rows recorded for calls made with ctx.
func WithCheckSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, checkSourceKey{}, source)
}

func checkSource(ctx context.Context) string {
	if s, ok := ctx.Value(checkSourceKey{}).(string); ok && s != "" {
		return s
	}
	return models.CheckSourceCLI
}

// WatchOptions overrides the service defaults for one watch. Zero fields keep the default.
type WatchOptions struct {
	poller.Config
	Timeout time.Duration
}

type WatchServiceDeps struct {
	Checker   StatusChecker
	Poller    *poller.Poller
	History   store.HistoryStore // optional
	JobClient store.JobClient    // optional, required by Enqueue
	Timeout   time.Duration      // default overall deadline, 0 for none
	Clock     clock.Clock
	Logger    logrus.FieldLogger
}

type watchEntry struct {
	watch   models.Watch
	task    *poller.Task
	settled chan struct{}
}

// WatchService binds resources to poll loops: one-shot checks, blocking waits,
// background watches and queued watches.
type WatchService struct {
	checker StatusChecker
	poller  *poller.Poller
	history store.HistoryStore
	jobs    store.JobClient
	timeout time.Duration
	clock   clock.Clock
	log     logrus.FieldLogger

	mu      sync.Mutex
	watches map[uuid.UUID]*watchEntry
	running map[string]uuid.UUID // resource key -> running watch
}

func NewWatchService(deps WatchServiceDeps) *WatchService {
	s := &WatchService{
		checker: deps.Checker,
		poller:  deps.Poller,
		history: deps.History,
		jobs:    deps.JobClient,
		timeout: deps.Timeout,
		clock:   deps.Clock,
		log:     deps.Logger,
		watches: make(map[uuid.UUID]*watchEntry),
		running: make(map[string]uuid.UUID),
	}
	if s.poller == nil {
		s.poller = poller.New(poller.Config{})
	}
	if s.history == nil {
		s.history = store.NewNoopHistoryStore()
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Defaults returns the poll settings used when WatchOptions leaves a field zero.
func (s *WatchService) Defaults() WatchOptions {
	return WatchOptions{Config: s.poller.Config(), Timeout: s.timeout}
}

// fetchStatus issues exactly one status request for res.
func (s *WatchService) fetchStatus(ctx context.Context, res models.Resource) (models.Status, error) {
	switch res.Kind {
	case models.KindStopwords, models.KindTokenizationDictionary:
		var (
			resp *discovery.TokenDictStatusResponse
			err  error
		)
		if res.Kind == models.KindStopwords {
			resp, err = s.checker.GetStopwordListStatus(ctx, res.EnvironmentID, res.CollectionID)
		} else {
			resp, err = s.checker.GetTokenizationDictionaryStatus(ctx, res.EnvironmentID, res.CollectionID)
		}
		if err != nil {
			return "", err
		}
		if resp.Type != "" && resp.Type != string(res.Kind) {
			return "", fmt.Errorf("%w: got %q, want %q", models.ErrUnexpectedType, resp.Type, res.Kind)
		}
		return resp.Status, nil
	case models.KindCollection:
		col, err := s.checker.GetCollection(ctx, res.EnvironmentID, res.CollectionID)
		if err != nil {
			return "", err
		}
		return col.Status, nil
	case models.KindDocument:
		doc, err := s.checker.GetDocumentStatus(ctx, res.EnvironmentID, res.CollectionID, res.DocumentID)
		if err != nil {
			return "", err
		}
		return doc.Status, nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnknownKind, res.Kind)
}

func (s *WatchService) record(ctx context.Context, res models.Resource, watchID *uuid.UUID, c poller.Check) {
	row := &models.StatusCheck{
		WatchID:       watchID,
		ResourceKey:   res.Key(),
		Kind:          res.Kind,
		EnvironmentID: res.EnvironmentID,
		CollectionID:  res.CollectionID,
		DocumentID:    res.DocumentID,
		Attempt:       c.Attempt,
		Status:        c.Status,
		Source:        checkSource(ctx),
		CheckedAt:     c.At,
	}
	if c.Err != nil {
		row.Error = c.Err.Error()
	}
	// Recording failures are logged, never returned.
	if err := s.history.RecordCheck(context.WithoutCancel(ctx), row); err != nil {
		s.log.WithError(err).WithField("resource", res.Key()).Warn("failed to record status check")
	}
}

// CheckStatus issues one status request and records it. A failed request is
// returned as a *poller.CheckError.
func (s *WatchService) CheckStatus(ctx context.Context, res models.Resource) (models.Status, error) {
	if err := res.Validate(); err != nil {
		return "", err
	}
	status, err := s.fetchStatus(ctx, res)
	s.record(ctx, res, nil, poller.Check{Attempt: 1, Status: status, Err: err, At: s.clock.Now()})
	if err != nil {
		return "", fmt.Errorf("check status of %s: %w", res.Key(), &poller.CheckError{Attempt: 1, Err: err})
	}
	return status, nil
}

// CheckCycle runs one cycle of a queued watch and classifies the result.
func (s *WatchService) CheckCycle(ctx context.Context, watchID uuid.UUID, res models.Resource, attempt int) (models.Status, poller.Outcome, error) {
	status, err := s.fetchStatus(ctx, res)
	c := poller.Check{Attempt: attempt, Status: status, Err: err, At: s.clock.Now()}
	if err == nil {
		c.Outcome = EvaluatorFor(res.Kind)(status)
	}
	s.record(ctx, res, &watchID, c)
	if err != nil {
		return "", poller.Pending, &poller.CheckError{Attempt: attempt, Err: err}
	}
	return status, c.Outcome, nil
}

func (s *WatchService) pollerFor(opts WatchOptions, observer poller.Observer) *poller.Poller {
	p := s.poller.WithConfig(opts.Config)
	if observer != nil {
		p = p.With(poller.WithObserver(observer))
	}
	return p
}

func (s *WatchService) deadline(ctx context.Context, opts WatchOptions) (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.timeout
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// Wait blocks until res reaches a terminal status. progress, when set, sees every check.
func (s *WatchService) Wait(ctx context.Context, res models.Resource, opts WatchOptions, progress poller.Observer) (poller.Result, error) {
	if err := res.Validate(); err != nil {
		return poller.Result{}, err
	}
	ctx, cancel := s.deadline(ctx, opts)
	defer cancel()

	p := s.pollerFor(opts, func(c poller.Check) {
		s.record(ctx, res, nil, c)
		if progress != nil {
			progress(c)
		}
	})
	log := s.log.WithField("resource", res.Key())
	log.Info("waiting for resource to settle")
	result, err := p.Poll(ctx, func(ctx context.Context) (models.Status, error) {
		return s.fetchStatus(ctx, res)
	}, EvaluatorFor(res.Kind))
	if err != nil {
		return result, fmt.Errorf("wait for %s: %w", res.Key(), err)
	}
	log.WithFields(logrus.Fields{"status": result.Status, "checks": result.Checks}).Info("resource settled")
	return result, nil
}

// Start launches a background watch. If res already has a running watch, that
// watch is returned with existed set. The watch outlives ctx; stop it with Cancel.
func (s *WatchService) Start(ctx context.Context, res models.Resource, opts WatchOptions) (watch models.Watch, existed bool, err error) {
	if err := res.Validate(); err != nil {
		return models.Watch{}, false, err
	}

	s.mu.Lock()
	if id, ok := s.running[res.Key()]; ok {
		w := s.watches[id].watch
		s.mu.Unlock()
		return w, true, nil
	}

	now := s.clock.Now()
	e := &watchEntry{
		watch: models.Watch{
			ID:        uuid.New(),
			Resource:  res,
			State:     models.WatchStateRunning,
			StartedAt: now,
			UpdatedAt: now,
		},
		settled: make(chan struct{}),
	}
	id := e.watch.ID
	s.watches[id] = e
	s.running[res.Key()] = id

	taskCtx, cancel := s.deadline(context.WithoutCancel(ctx), opts)
	p := s.pollerFor(opts, func(c poller.Check) {
		s.record(taskCtx, res, &id, c)
		s.progress(id, c)
	})
	e.task = p.Start(taskCtx, func(ctx context.Context) (models.Status, error) {
		return s.fetchStatus(ctx, res)
	}, EvaluatorFor(res.Kind))

	started := e.watch
	s.mu.Unlock()
	s.save(ctx, started)

	go func() {
		defer cancel()
		<-e.task.Done()
		s.settle(taskCtx, id)
	}()

	s.log.WithFields(logrus.Fields{"watch_id": id, "resource": res.Key()}).Info("watch started")
	return started, false, nil
}

func (s *WatchService) progress(id uuid.UUID, c poller.Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.watches[id]
	if !ok {
		return
	}
	e.watch.Checks = c.Attempt
	e.watch.UpdatedAt = c.At
	if c.Err != nil {
		e.watch.Error = c.Err.Error()
	} else {
		e.watch.LastStatus = c.Status
		e.watch.Error = ""
	}
}

func (s *WatchService) settle(ctx context.Context, id uuid.UUID) {
	s.mu.Lock()
	e := s.watches[id]
	result, err := e.task.Result()
	now := s.clock.Now()

	w := &e.watch
	w.State = stateFor(err)
	if result.Checks > 0 {
		w.Checks = result.Checks
	}
	if result.Status != "" {
		w.LastStatus = result.Status
	}
	if err != nil && w.State != models.WatchStateCancelled {
		w.Error = err.Error()
	}
	w.UpdatedAt = now
	w.FinishedAt = &now
	if s.running[w.Resource.Key()] == id {
		delete(s.running, w.Resource.Key())
	}
	final := *w
	s.mu.Unlock()

	s.save(ctx, final)
	close(e.settled)
	s.log.WithFields(logrus.Fields{"watch_id": id, "resource": final.Resource.Key(), "state": final.State}).Info("watch finished")
}

func stateFor(err error) models.WatchState {
	switch {
	case err == nil:
		return models.WatchStateCompleted
	case errors.Is(err, context.Canceled):
		return models.WatchStateCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, poller.ErrMaxChecks):
		return models.WatchStateTimedOut
	default:
		return models.WatchStateFailed
	}
}

func (s *WatchService) save(ctx context.Context, w models.Watch) {
	if err := s.history.SaveWatch(context.WithoutCancel(ctx), &w); err != nil {
		s.log.WithError(err).WithField("watch_id", w.ID).Warn("failed to persist watch")
	}
}

// Get returns a watch of this process or, failing that, a persisted one.
func (s *WatchService) Get(ctx context.Context, id uuid.UUID) (models.Watch, error) {
	s.mu.Lock()
	e, ok := s.watches[id]
	var w models.Watch
	if ok {
		w = e.watch
	}
	s.mu.Unlock()
	if ok {
		return w, nil
	}

	stored, err := s.history.GetWatch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDisabled) {
			return models.Watch{}, fmt.Errorf("watch %s: %w", id, models.ErrNotFound)
		}
		return models.Watch{}, err
	}
	return *stored, nil
}

// List returns the watches of this process merged with persisted ones, newest first.
func (s *WatchService) List(ctx context.Context) ([]models.Watch, error) {
	seen := make(map[uuid.UUID]bool)
	var out []models.Watch

	s.mu.Lock()
	for id, e := range s.watches {
		seen[id] = true
		out = append(out, e.watch)
	}
	s.mu.Unlock()

	stored, err := s.history.ListWatches(ctx, 100)
	if err != nil && !errors.Is(err, store.ErrDisabled) {
		return nil, err
	}
	for _, w := range stored {
		if !seen[w.ID] {
			out = append(out, *w)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Cancel stops a running watch and returns its final state. Queued watches are
// marked cancelled; the worker drops their next cycle.
func (s *WatchService) Cancel(ctx context.Context, id uuid.UUID) (models.Watch, error) {
	s.mu.Lock()
	e, ok := s.watches[id]
	s.mu.Unlock()

	if ok {
		select {
		case <-e.settled:
			return models.Watch{}, fmt.Errorf("watch %s: %w", id, models.ErrWatchNotRunning)
		default:
		}
		e.task.Cancel()
		select {
		case <-e.settled:
		case <-ctx.Done():
			return models.Watch{}, ctx.Err()
		}
		return s.Get(ctx, id)
	}

	w, err := s.Get(ctx, id)
	if err != nil {
		return models.Watch{}, err
	}
	if w.State.Terminal() {
		return models.Watch{}, fmt.Errorf("watch %s: %w", id, models.ErrWatchNotRunning)
	}
	now := s.clock.Now()
	w.State = models.WatchStateCancelled
	w.UpdatedAt = now
	w.FinishedAt = &now
	if err := s.history.SaveWatch(ctx, &w); err != nil {
		if errors.Is(err, store.ErrWatchFinished) {
			return models.Watch{}, fmt.Errorf("watch %s: %w", id, models.ErrWatchNotRunning)
		}
		return models.Watch{}, fmt.Errorf("cancel watch %s: %w", id, err)
	}
	return w, nil
}

// ErrQueueDisabled is returned by Enqueue when no job client is configured.
var ErrQueueDisabled = errors.New("queued watches require redis")

// Enqueue starts a watch whose cycles run on the worker. The first cycle is
// scheduled one interval from now. The error tolerance and the overall timeout
// travel with every cycle.
func (s *WatchService) Enqueue(ctx context.Context, res models.Resource, opts WatchOptions) (models.Watch, error) {
	if s.jobs == nil {
		return models.Watch{}, ErrQueueDisabled
	}
	if err := res.Validate(); err != nil {
		return models.Watch{}, err
	}
	cfg := s.poller.WithConfig(opts.Config).Config()
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.timeout
	}

	now := s.clock.Now()
	w := models.Watch{
		ID:        uuid.New(),
		Resource:  res,
		State:     models.WatchStateQueued,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.history.SaveWatch(ctx, &w); err != nil {
		return models.Watch{}, fmt.Errorf("persist queued watch: %w", err)
	}

	payload := tasks.StatusCheckPayload{
		WatchID:              w.ID,
		Resource:             res,
		Attempt:              1,
		IntervalMS:           tasks.IntervalMillis(cfg.Interval),
		MaxChecks:            cfg.MaxChecks,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
	}
	if timeout > 0 {
		deadline := now.Add(timeout).UTC()
		payload.Deadline = &deadline
	}
	if _, err := s.jobs.EnqueueStatusCheck(ctx, payload, payload.Interval()); err != nil {
		return models.Watch{}, fmt.Errorf("enqueue first status check: %w", err)
	}
	s.log.WithFields(logrus.Fields{"watch_id": w.ID, "resource": res.Key()}).Info("watch queued")
	return w, nil
}

// History lists recorded checks for a resource (all resources when res is nil).
func (s *WatchService) History(ctx context.Context, res *models.Resource, limit int) ([]*models.StatusCheck, error) {
	filter := store.CheckFilter{Limit: limit}
	if res != nil {
		filter.ResourceKey = res.Key()
	}
	return s.history.ListChecks(ctx, filter)
}

// WatchHistory lists the checks recorded for one watch.
func (s *WatchService) WatchHistory(ctx context.Context, id uuid.UUID, limit int) ([]*models.StatusCheck, error) {
	return s.history.ListChecks(ctx, store.CheckFilter{WatchID: &id, Limit: limit})
}
