package capture

import (
	"context"
	"sync"
	"time"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// InflightCounter tracks open requests from the reconciled event stream.
type InflightCounter struct {
	mu         sync.Mutex
	open       map[string]bool
	lastChange time.Time
}

func NewInflightCounter() *InflightCounter {
	return &InflightCounter{open: make(map[string]bool), lastChange: time.Now()}
}

// Track observes one event. Feed it from Handlers.OnEvent ahead of the
// store.
func (ic *InflightCounter) Track(ev event.NetworkEvent) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	switch ev.Kind {
	case event.KindRequest:
		if !ic.open[ev.RequestID] {
			ic.open[ev.RequestID] = true
			ic.lastChange = time.Now()
		}
	case event.KindResponse, event.KindFailed:
		if ic.open[ev.RequestID] {
			delete(ic.open, ev.RequestID)
			ic.lastChange = time.Now()
		}
	}
}

// IdleFor reports whether nothing has been in flight for at least d.
func (ic *InflightCounter) IdleFor(d time.Duration) bool {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return len(ic.open) == 0 && time.Since(ic.lastChange) >= d
}

// CompletionReason says which strategy won the completion race.
type CompletionReason string

const (
	CompletedIdle    CompletionReason = "idle"
	CompletedTimeout CompletionReason = "timeout"
	CompletedCancel  CompletionReason = "canceled"
)

// Completion races a quiet-period strategy against a hard timeout; the
// first to resolve wins and the loser is simply never awaited again.
type Completion struct {
	Counter     *InflightCounter
	QuietPeriod time.Duration
	Timeout     time.Duration

	// PollInterval controls how often the quiet strategy samples the
	// counter. Zero selects 100ms.
	PollInterval time.Duration
}

// Wait blocks until either strategy resolves or ctx is canceled.
func (c *Completion) Wait(ctx context.Context) CompletionReason {
	poll := c.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if c.Timeout > 0 {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return CompletedCancel
		case <-timeout:
			return CompletedTimeout
		case <-ticker.C:
			if c.QuietPeriod > 0 && c.Counter.IdleFor(c.QuietPeriod) {
				return CompletedIdle
			}
		}
	}
}
