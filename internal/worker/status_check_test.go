package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/store"
	"discowatch/internal/tasks"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) CheckCycle(ctx context.Context, watchID uuid.UUID, res models.Resource, attempt int) (models.Status, poller.Outcome, error) {
	args := m.Called(ctx, watchID, res, attempt)
	return args.Get(0).(models.Status), args.Get(1).(poller.Outcome), args.Error(2)
}

type mockJobClient struct {
	mock.Mock
}

func (m *mockJobClient) EnqueueStatusCheck(ctx context.Context, payload tasks.StatusCheckPayload, delay time.Duration) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, payload, delay)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockJobClient) Close() error { return nil }

type memWatches struct {
	mu      sync.Mutex
	watches map[uuid.UUID]models.Watch
}

func (s *memWatches) SaveWatch(ctx context.Context, w *models.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.watches[w.ID]; ok && stored.State.Terminal() {
		return store.ErrWatchFinished
	}
	s.watches[w.ID] = *w
	return nil
}

func (s *memWatches) GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (s *memWatches) ListWatches(ctx context.Context, limit int) ([]*models.Watch, error) {
	return nil, nil
}

var stopwords = models.Resource{Kind: models.KindStopwords, EnvironmentID: "env-1", CollectionID: "col-1"}

var epoch = time.Date(2019, 2, 13, 0, 0, 0, 0, time.UTC)

type fixture struct {
	checker *mockChecker
	jobs    *mockJobClient
	watches *memWatches
	handler func(context.Context, *asynq.Task) error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		checker: new(mockChecker),
		jobs:    new(mockJobClient),
		watches: &memWatches{watches: make(map[uuid.UUID]models.Watch)},
	}
	f.handler = HandleStatusCheck(StatusCheckDeps{
		Checker:   f.checker,
		Watches:   f.watches,
		JobClient: f.jobs,
		Clock:     testingclock.NewFakeClock(epoch),
		Logger:    logger,
	})
	return f
}

func newTask(t *testing.T, p tasks.StatusCheckPayload) *asynq.Task {
	t.Helper()
	data, err := p.Marshal()
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeStatusCheck, data)
}

func payload(attempt, maxChecks int) tasks.StatusCheckPayload {
	return tasks.StatusCheckPayload{
		WatchID:    uuid.MustParse("0b7c2a64-9a56-4c35-8d8e-2f0f6c1f6a11"),
		Resource:   stopwords,
		Attempt:    attempt,
		IntervalMS: 30000,
		MaxChecks:  maxChecks,
	}
}

func TestRegisterHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	RegisterHandlers(mux, StatusCheckDeps{})
	_, pattern := mux.Handler(asynq.NewTask(tasks.TypeStatusCheck, nil))
	assert.Equal(t, tasks.TypeStatusCheck, pattern)
}

func TestPendingEnqueuesNextCycle(t *testing.T) {
	f := newFixture(t)
	p := payload(1, 0)
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 1).Return(models.StatusPending, poller.Pending, nil).Once()
	f.jobs.On("EnqueueStatusCheck", mock.Anything, p.Next(), 30*time.Second).Return(&asynq.TaskInfo{}, nil).Once()

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.jobs.AssertExpectations(t)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateRunning, w.State)
	assert.Equal(t, models.StatusPending, w.LastStatus)
	assert.Equal(t, 1, w.Checks)
}

func TestDuplicateNextCycleIsIgnored(t *testing.T) {
	f := newFixture(t)
	p := payload(2, 0)
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 2).Return(models.StatusProcessing, poller.Pending, nil).Once()
	f.jobs.On("EnqueueStatusCheck", mock.Anything, p.Next(), 30*time.Second).Return(nil, store.ErrDuplicate).Once()

	assert.NoError(t, f.handler(context.Background(), newTask(t, p)))
}

func TestDoneFinishesWatch(t *testing.T) {
	f := newFixture(t)
	p := payload(3, 0)
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 3).Return(models.StatusActive, poller.Done, nil).Once()

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateCompleted, w.State)
	assert.NotNil(t, w.FinishedAt)
}

func TestFailedStatusSkipsRetry(t *testing.T) {
	f := newFixture(t)
	p := payload(1, 0)
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 1).Return(models.StatusNotFound, poller.Failed, nil).Once()

	err := f.handler(context.Background(), newTask(t, p))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, poller.IsFailedStatus(err))

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateFailed, w.State)
	assert.Contains(t, w.Error, "not found")
}

func TestTransportErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	p := payload(1, 0)
	p.MaxConsecutiveErrors = 2
	checkErr := &poller.CheckError{Attempt: 1, Err: errors.New("connection reset")}
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 1).Return(models.Status(""), poller.Pending, checkErr).Once()

	err := f.handler(context.Background(), newTask(t, p))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, poller.IsTransportError(err))
	f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateRunning, w.State)
	assert.Contains(t, w.Error, "connection reset")
}

func TestMaxChecksStopsWatch(t *testing.T) {
	f := newFixture(t)
	p := payload(3, 3)
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 3).Return(models.StatusPending, poller.Pending, nil).Once()

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateTimedOut, w.State)
}

func TestCancelledWatchDropsCycle(t *testing.T) {
	f := newFixture(t)
	p := payload(2, 0)
	require.NoError(t, f.watches.SaveWatch(context.Background(), &models.Watch{
		ID:       p.WatchID,
		Resource: stopwords,
		State:    models.WatchStateCancelled,
	}))

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.checker.AssertNotCalled(t, "CheckCycle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidPayloadSkipsRetry(t *testing.T) {
	f := newFixture(t)
	err := f.handler(context.Background(), asynq.NewTask(tasks.TypeStatusCheck, []byte(`{"attempt":1}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTransportErrorBeyondToleranceFailsWatch(t *testing.T) {
	f := newFixture(t)
	p := payload(2, 0)
	checkErr := &poller.CheckError{Attempt: 2, Err: errors.New("connection refused")}
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 2).Return(models.Status(""), poller.Pending, checkErr).Once()

	err := f.handler(context.Background(), newTask(t, p))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, poller.IsTransportError(err))
	f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateFailed, w.State)
	assert.Contains(t, w.Error, "connection refused")
	assert.NotNil(t, w.FinishedAt)
}

func TestCancelDuringCheckIsKept(t *testing.T) {
	f := newFixture(t)
	p := payload(2, 0)
	require.NoError(t, f.watches.SaveWatch(context.Background(), &models.Watch{
		ID:       p.WatchID,
		Resource: stopwords,
		State:    models.WatchStateRunning,
		Checks:   1,
	}))
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 2).
		Run(func(mock.Arguments) {
			w, err := f.watches.GetWatch(context.Background(), p.WatchID)
			require.NoError(t, err)
			w.State = models.WatchStateCancelled
			require.NoError(t, f.watches.SaveWatch(context.Background(), w))
		}).
		Return(models.StatusPending, poller.Pending, nil).Once()

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

	w, err := f.watches.GetWatch(context.Background(), p.WatchID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateCancelled, w.State)
	assert.Equal(t, 1, w.Checks)
}

func TestFractionalIntervalIsKept(t *testing.T) {
	f := newFixture(t)
	p := payload(1, 0)
	p.IntervalMS = 500
	f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 1).Return(models.StatusPending, poller.Pending, nil).Once()
	f.jobs.On("EnqueueStatusCheck", mock.Anything, p.Next(), 500*time.Millisecond).Return(&asynq.TaskInfo{}, nil).Once()

	require.NoError(t, f.handler(context.Background(), newTask(t, p)))
	f.jobs.AssertExpectations(t)
}

func TestExpiredDeadlineTimesOut(t *testing.T) {
	t.Run("before the check", func(t *testing.T) {
		f := newFixture(t)
		p := payload(4, 0)
		deadline := epoch.Add(-time.Second)
		p.Deadline = &deadline

		require.NoError(t, f.handler(context.Background(), newTask(t, p)))
		f.checker.AssertNotCalled(t, "CheckCycle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		w, err := f.watches.GetWatch(context.Background(), p.WatchID)
		require.NoError(t, err)
		assert.Equal(t, models.WatchStateTimedOut, w.State)
		assert.Contains(t, w.Error, "deadline")
	})

	t.Run("before the next cycle", func(t *testing.T) {
		f := newFixture(t)
		p := payload(4, 0)
		deadline := epoch.Add(10 * time.Second)
		p.Deadline = &deadline
		f.checker.On("CheckCycle", mock.Anything, p.WatchID, stopwords, 4).Return(models.StatusPending, poller.Pending, nil).Once()

		require.NoError(t, f.handler(context.Background(), newTask(t, p)))
		f.jobs.AssertNotCalled(t, "EnqueueStatusCheck", mock.Anything, mock.Anything, mock.Anything)

		w, err := f.watches.GetWatch(context.Background(), p.WatchID)
		require.NoError(t, err)
		assert.Equal(t, models.WatchStateTimedOut, w.State)
		assert.Equal(t, models.StatusPending, w.LastStatus)
	})
}

func TestRetryDelay(t *testing.T) {
	p := payload(1, 0)
	p.IntervalMS = 1500
	assert.Equal(t, 1500*time.Millisecond, RetryDelay(3, errors.New("boom"), newTask(t, p)))

	other := asynq.NewTask("other:task", nil)
	assert.Greater(t, RetryDelay(1, errors.New("boom"), other), time.Duration(0))
}
