package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"discowatch/internal/discovery"
	"discowatch/internal/models"
	"discowatch/internal/poller"
	"discowatch/internal/services"
	"discowatch/internal/tasks"
)

const interval = 30 * time.Second

var (
	stopwords = models.Resource{Kind: models.KindStopwords, EnvironmentID: "env-1", CollectionID: "col-1"}
	document  = models.Resource{Kind: models.KindDocument, EnvironmentID: "env-1", CollectionID: "col-1", DocumentID: "doc-1"}
)

type fixture struct {
	svc     *services.WatchService
	checker *mockChecker
	history *memHistory
	jobs    *mockJobClient
	clock   *testingclock.FakeClock
}

func newFixture(t *testing.T, withJobs bool) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		checker: new(mockChecker),
		history: newMemHistory(),
		clock:   testingclock.NewFakeClock(time.Date(2019, 2, 13, 0, 0, 0, 0, time.UTC)),
	}
	deps := services.WatchServiceDeps{
		Checker: f.checker,
		Poller:  poller.New(poller.Config{Interval: interval}, poller.WithClock(f.clock), poller.WithLogger(logger)),
		History: f.history,
		Clock:   f.clock,
		Logger:  logger,
	}
	if withJobs {
		f.jobs = new(mockJobClient)
		deps.JobClient = f.jobs
	}
	f.svc = services.NewWatchService(deps)
	return f
}

// tick waits for the poll loop to arm its timer and fires it.
func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.Eventually(t, f.clock.HasWaiters, time.Second, time.Millisecond, "poller never started waiting")
	f.clock.Step(interval)
}

func wordList(status models.Status, kind models.ResourceKind) *discovery.TokenDictStatusResponse {
	return &discovery.TokenDictStatusResponse{Status: status, Type: string(kind)}
}

func TestEvaluatorFor(t *testing.T) {
	cases := []struct {
		kind   models.ResourceKind
		status models.Status
		want   poller.Outcome
	}{
		{models.KindStopwords, "pending", poller.Pending},
		{models.KindStopwords, "ACTIVE", poller.Done},
		{models.KindStopwords, "not found", poller.Failed},
		{models.KindTokenizationDictionary, "processing", poller.Pending},
		{models.KindTokenizationDictionary, "active", poller.Done},
		{models.KindCollection, "maintenance", poller.Pending},
		{models.KindCollection, "active", poller.Done},
		{models.KindCollection, "not found", poller.Pending},
		{models.KindCollection, "failed", poller.Failed},
		{models.KindDocument, "processing", poller.Pending},
		{models.KindDocument, "available", poller.Done},
		{models.KindDocument, "available with notices", poller.Done},
		{models.KindDocument, "active", poller.Pending},
		{models.KindDocument, "failed", poller.Failed},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+"/"+string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, services.EvaluatorFor(tc.kind)(tc.status))
		})
	}
}

func TestCheckStatus_RecordsHistory(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(wordList("pending", models.KindStopwords), nil).Once()

	ctx := services.WithCheckSource(context.Background(), models.CheckSourceAPI)
	status, err := f.svc.CheckStatus(ctx, stopwords)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status)

	rows := f.history.recorded()
	require.Len(t, rows, 1)
	assert.Equal(t, stopwords.Key(), rows[0].ResourceKey)
	assert.Equal(t, models.CheckSourceAPI, rows[0].Source)
	assert.Nil(t, rows[0].WatchID)
	f.checker.AssertExpectations(t)
}

func TestCheckStatus_UnexpectedType(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(wordList("active", models.KindTokenizationDictionary), nil).Once()

	_, err := f.svc.CheckStatus(context.Background(), stopwords)
	assert.ErrorIs(t, err, models.ErrUnexpectedType)
}

func TestCheckStatus_ValidatesResource(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.CheckStatus(context.Background(), models.Resource{Kind: models.KindDocument, EnvironmentID: "e", CollectionID: "c"})
	assert.ErrorIs(t, err, models.ErrValidation)
	f.checker.AssertNotCalled(t, "GetDocumentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckStatus_TransportErrorIsRecorded(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetCollection", mock.Anything, "env-1", "col-1").
		Return(nil, errors.New("connection refused")).Once()

	_, err := f.svc.CheckStatus(context.Background(), models.Resource{Kind: models.KindCollection, EnvironmentID: "env-1", CollectionID: "col-1"})
	require.Error(t, err)
	assert.True(t, poller.IsTransportError(err))
	rows := f.history.recorded()
	require.Len(t, rows, 1)
	assert.Equal(t, "connection refused", rows[0].Error)
}

func TestWait_DocumentBecomesAvailable(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetDocumentStatus", mock.Anything, "env-1", "col-1", "doc-1").
		Return(&discovery.DocumentStatus{DocumentID: "doc-1", Status: "processing"}, nil).Once()
	f.checker.On("GetDocumentStatus", mock.Anything, "env-1", "col-1", "doc-1").
		Return(&discovery.DocumentStatus{DocumentID: "doc-1", Status: "available"}, nil).Once()

	var seen []models.Status
	type outcome struct {
		res poller.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Wait(context.Background(), document, services.WatchOptions{}, func(c poller.Check) {
			seen = append(seen, c.Status)
		})
		done <- outcome{res, err}
	}()

	f.tick(t)
	f.tick(t)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, models.StatusAvailable, out.res.Status)
		assert.Equal(t, 2, out.res.Checks)
		assert.Equal(t, 2*interval, out.res.Elapsed)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
	assert.Equal(t, []models.Status{"processing", "available"}, seen)
	assert.Len(t, f.history.recorded(), 2)
}

func TestWait_FailureStatus(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(wordList("not found", models.KindStopwords), nil).Once()

	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.Wait(context.Background(), stopwords, services.WatchOptions{}, nil)
		errc <- err
	}()
	f.tick(t)

	select {
	case err := <-errc:
		assert.True(t, poller.IsFailedStatus(err))
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestStart_DeduplicatesAndCancels(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(wordList("pending", models.KindStopwords), nil)

	first, existed, err := f.svc.Start(context.Background(), stopwords, services.WatchOptions{})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, models.WatchStateRunning, first.State)

	second, existed, err := f.svc.Start(context.Background(), stopwords, services.WatchOptions{})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)

	f.tick(t)
	require.Eventually(t, func() bool {
		w, err := f.svc.Get(context.Background(), first.ID)
		return err == nil && w.Checks == 1
	}, time.Second, time.Millisecond)

	cancelled, err := f.svc.Cancel(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateCancelled, cancelled.State)
	assert.Equal(t, models.StatusPending, cancelled.LastStatus)
	assert.NotNil(t, cancelled.FinishedAt)

	_, err = f.svc.Cancel(context.Background(), first.ID)
	assert.ErrorIs(t, err, models.ErrWatchNotRunning)

	third, existed, err := f.svc.Start(context.Background(), stopwords, services.WatchOptions{})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, first.ID, third.ID)
	_, err = f.svc.Cancel(context.Background(), third.ID)
	require.NoError(t, err)

	persisted, err := f.history.GetWatch(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WatchStateCancelled, persisted.State)

	rows, err := f.svc.WatchHistory(context.Background(), first.ID, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStart_Completes(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetTokenizationDictionaryStatus", mock.Anything, "env-1", "col-ja").
		Return(wordList("pending", models.KindTokenizationDictionary), nil).Once()
	f.checker.On("GetTokenizationDictionaryStatus", mock.Anything, "env-1", "col-ja").
		Return(wordList("active", models.KindTokenizationDictionary), nil).Once()

	res := models.Resource{Kind: models.KindTokenizationDictionary, EnvironmentID: "env-1", CollectionID: "col-ja"}
	w, _, err := f.svc.Start(context.Background(), res, services.WatchOptions{})
	require.NoError(t, err)

	f.tick(t)
	f.tick(t)

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), w.ID)
		return err == nil && got.State == models.WatchStateCompleted
	}, time.Second, time.Millisecond)

	got, err := f.svc.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Checks)
	assert.Equal(t, models.StatusActive, got.LastStatus)
	assert.Empty(t, got.Error)

	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, w.ID, list[0].ID)
}

func TestStart_MaxChecksTimesOut(t *testing.T) {
	f := newFixture(t, false)
	f.checker.On("GetCollection", mock.Anything, "env-1", "col-1").
		Return(&discovery.Collection{Status: "pending"}, nil)

	res := models.Resource{Kind: models.KindCollection, EnvironmentID: "env-1", CollectionID: "col-1"}
	w, _, err := f.svc.Start(context.Background(), res, services.WatchOptions{Config: poller.Config{MaxChecks: 1}})
	require.NoError(t, err)
	f.tick(t)

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), w.ID)
		return err == nil && got.State == models.WatchStateTimedOut
	}, time.Second, time.Millisecond)
}

func TestGet_Unknown(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnqueue(t *testing.T) {
	t.Run("requires a job client", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.Enqueue(context.Background(), stopwords, services.WatchOptions{})
		assert.ErrorIs(t, err, services.ErrQueueDisabled)
	})

	t.Run("enqueues the first cycle", func(t *testing.T) {
		f := newFixture(t, true)
		f.jobs.On("EnqueueStatusCheck", mock.Anything, mock.MatchedBy(func(p tasks.StatusCheckPayload) bool {
			return p.Attempt == 1 && p.Resource == stopwords && p.Interval() == interval && p.MaxChecks == 5 && p.Deadline == nil
		}), interval).Return(nil, nil).Once()

		w, err := f.svc.Enqueue(context.Background(), stopwords, services.WatchOptions{Config: poller.Config{MaxChecks: 5}})
		require.NoError(t, err)
		assert.Equal(t, models.WatchStateQueued, w.State)
		f.jobs.AssertExpectations(t)

		got, err := f.svc.Get(context.Background(), w.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WatchStateQueued, got.State)

		cancelled, err := f.svc.Cancel(context.Background(), w.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WatchStateCancelled, cancelled.State)

		_, err = f.svc.Cancel(context.Background(), w.ID)
		assert.ErrorIs(t, err, models.ErrWatchNotRunning)
	})

	t.Run("keeps fractional intervals", func(t *testing.T) {
		for _, iv := range []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond} {
			f := newFixture(t, true)
			var got tasks.StatusCheckPayload
			f.jobs.On("EnqueueStatusCheck", mock.Anything, mock.Anything, iv).
				Run(func(args mock.Arguments) { got = args.Get(1).(tasks.StatusCheckPayload) }).
				Return(nil, nil).Once()

			_, err := f.svc.Enqueue(context.Background(), stopwords, services.WatchOptions{Config: poller.Config{Interval: iv}})
			require.NoError(t, err)
			f.jobs.AssertExpectations(t)
			assert.Equal(t, iv, got.Next().Interval())
		}
	})

	t.Run("carries error tolerance and deadline", func(t *testing.T) {
		f := newFixture(t, true)
		var got tasks.StatusCheckPayload
		f.jobs.On("EnqueueStatusCheck", mock.Anything, mock.Anything, interval).
			Run(func(args mock.Arguments) { got = args.Get(1).(tasks.StatusCheckPayload) }).
			Return(nil, nil).Once()

		opts := services.WatchOptions{Config: poller.Config{MaxConsecutiveErrors: 3}, Timeout: 10 * time.Minute}
		_, err := f.svc.Enqueue(context.Background(), stopwords, opts)
		require.NoError(t, err)
		assert.Equal(t, 3, got.MaxConsecutiveErrors)
		require.NotNil(t, got.Deadline)
		assert.True(t, got.Deadline.Equal(f.clock.Now().Add(10*time.Minute)))
	})
}

func TestCheckCycle(t *testing.T) {
	f := newFixture(t, false)
	id := uuid.New()
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(wordList("active", models.KindStopwords), nil).Once()
	f.checker.On("GetStopwordListStatus", mock.Anything, "env-1", "col-1").
		Return(nil, errors.New("timeout")).Once()

	status, outcome, err := f.svc.CheckCycle(context.Background(), id, stopwords, 4)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, status)
	assert.Equal(t, poller.Done, outcome)

	_, _, err = f.svc.CheckCycle(context.Background(), id, stopwords, 5)
	assert.True(t, poller.IsTransportError(err))

	rows := f.history.recorded()
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Attempt)
	require.NotNil(t, rows[1].WatchID)
	assert.Equal(t, id, *rows[1].WatchID)
}
