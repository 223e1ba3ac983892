package session

import (
	"context"
	"sync"
)

// promptGate admits one holder at a time and hands the slot to waiters in
// arrival order.
type promptGate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (g *promptGate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	for i, w := range g.waiters {
		if w == ch {
			g.waiters = append(g.waiters[:i:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return ctx.Err()
		}
	}
	g.mu.Unlock()

	// The slot was handed over while ctx ended; pass it on.
	g.release()
	return ctx.Err()
}

func (g *promptGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.held = false
		return
	}
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	close(next)
}

// queued reports how many callers wait behind the holder.
func (g *promptGate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
