package services_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"discowatch/internal/discovery"
	"discowatch/internal/models"
	"discowatch/internal/store"
	"discowatch/internal/tasks"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) GetStopwordListStatus(ctx context.Context, environmentID, collectionID string) (*discovery.TokenDictStatusResponse, error) {
	args := m.Called(ctx, environmentID, collectionID)
	resp, _ := args.Get(0).(*discovery.TokenDictStatusResponse)
	return resp, args.Error(1)
}

func (m *mockChecker) GetTokenizationDictionaryStatus(ctx context.Context, environmentID, collectionID string) (*discovery.TokenDictStatusResponse, error) {
	args := m.Called(ctx, environmentID, collectionID)
	resp, _ := args.Get(0).(*discovery.TokenDictStatusResponse)
	return resp, args.Error(1)
}

func (m *mockChecker) GetCollection(ctx context.Context, environmentID, collectionID string) (*discovery.Collection, error) {
	args := m.Called(ctx, environmentID, collectionID)
	resp, _ := args.Get(0).(*discovery.Collection)
	return resp, args.Error(1)
}

func (m *mockChecker) GetDocumentStatus(ctx context.Context, environmentID, collectionID, documentID string) (*discovery.DocumentStatus, error) {
	args := m.Called(ctx, environmentID, collectionID, documentID)
	resp, _ := args.Get(0).(*discovery.DocumentStatus)
	return resp, args.Error(1)
}

type mockWordLists struct {
	mock.Mock
}

func (m *mockWordLists) CreateStopwordList(ctx context.Context, environmentID, collectionID, filename string, stopwords io.Reader) (*discovery.TokenDictStatusResponse, error) {
	data, _ := io.ReadAll(stopwords)
	args := m.Called(ctx, environmentID, collectionID, filename, string(data))
	resp, _ := args.Get(0).(*discovery.TokenDictStatusResponse)
	return resp, args.Error(1)
}

func (m *mockWordLists) CreateTokenizationDictionary(ctx context.Context, environmentID, collectionID string, rules []discovery.TokenDictRule) (*discovery.TokenDictStatusResponse, error) {
	args := m.Called(ctx, environmentID, collectionID, rules)
	resp, _ := args.Get(0).(*discovery.TokenDictStatusResponse)
	return resp, args.Error(1)
}

func (m *mockWordLists) DeleteStopwordList(ctx context.Context, environmentID, collectionID string) error {
	return m.Called(ctx, environmentID, collectionID).Error(0)
}

func (m *mockWordLists) DeleteTokenizationDictionary(ctx context.Context, environmentID, collectionID string) error {
	return m.Called(ctx, environmentID, collectionID).Error(0)
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

// memHistory is an in-memory store.HistoryStore.
type memHistory struct {
	mu      sync.Mutex
	checks  []*models.StatusCheck
	watches map[uuid.UUID]models.Watch
}

func newMemHistory() *memHistory {
	return &memHistory{watches: make(map[uuid.UUID]models.Watch)}
}

func (h *memHistory) RecordCheck(ctx context.Context, check *models.StatusCheck) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := *check
	c.ID = int64(len(h.checks) + 1)
	h.checks = append(h.checks, &c)
	return nil
}

func (h *memHistory) ListChecks(ctx context.Context, filter store.CheckFilter) ([]*models.StatusCheck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.StatusCheck
	for i := len(h.checks) - 1; i >= 0; i-- {
		c := h.checks[i]
		if filter.ResourceKey != "" && c.ResourceKey != filter.ResourceKey {
			continue
		}
		if filter.WatchID != nil && (c.WatchID == nil || *c.WatchID != *filter.WatchID) {
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (h *memHistory) SaveWatch(ctx context.Context, w *models.Watch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if stored, ok := h.watches[w.ID]; ok && stored.State.Terminal() {
		return store.ErrWatchFinished
	}
	h.watches[w.ID] = *w
	return nil
}

func (h *memHistory) GetWatch(ctx context.Context, id uuid.UUID) (*models.Watch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.watches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (h *memHistory) ListWatches(ctx context.Context, limit int) ([]*models.Watch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.Watch
	for _, w := range h.watches {
		w := w
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (h *memHistory) Ping(ctx context.Context) error { return nil }
func (h *memHistory) Close() error                   { return nil }

func (h *memHistory) recorded() []models.StatusCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.StatusCheck, len(h.checks))
	for i, c := range h.checks {
		out[i] = *c
	}
	return out
}
