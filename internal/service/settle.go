package service

import (
	"context"
	"fmt"
	"sync"
)

// inflight counts deferred fan-out shares and wakes waiters once all landed.
// A sync.WaitGroup does not fit because Add may race with Wait here.
type inflight struct {
	mu      sync.Mutex
	pending int
	waiters []chan struct{}
}

func (f *inflight) add(n int) {
	if n <= 0 {
		return
	}
	f.mu.Lock()
	f.pending += n
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending--
	if f.pending == 0 {
		for _, ch := range f.waiters {
			close(ch)
		}
		f.waiters = nil
	}
}

func (f *inflight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// wait blocks until no share is pending or ctx is done.
func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.pending == 0 {
		f.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d fan-out shares still pending: %w", f.count(), ctx.Err())
	}
}
