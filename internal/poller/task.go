package poller

import (
	"context"
	"sync"
)

// Task is a poll loop running in the background. Callers observe completion
// through Done or Wait instead of a shared flag.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result Result
	err    error
}

// Start runs Poll on its own goroutine. Cancelling ctx or calling Cancel aborts it.
func (p *Poller) Start(ctx context.Context, check CheckFunc, eval Evaluator) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer cancel()
		res, err := p.Poll(ctx, check, eval)
		t.mu.Lock()
		t.result, t.err = res, err
		t.mu.Unlock()
		close(t.done)
	}()
	return t
}

// Done is closed once the poll loop has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel aborts the poll loop. It does not wait for it to return.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes or ctx ends. A ctx ending here does not
// cancel the task itself.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome. Before Done is closed it returns the zero Result and nil.
func (t *Task) Result() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}
