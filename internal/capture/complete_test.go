package capture

import (
	"context"
	"testing"
	"time"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

func TestInflightCounterTracksOpenRequests(t *testing.T) {
	ic := NewInflightCounter()

	ic.Track(event.NetworkEvent{Kind: event.KindRequest, RequestID: "a:0"})
	if ic.IdleFor(0) {
		t.Fatal("counter idle with an open request")
	}

	ic.Track(event.NetworkEvent{Kind: event.KindResponse, RequestID: "a:0"})
	if !ic.IdleFor(0) {
		t.Fatal("counter not idle after the request settled")
	}
}

func TestInflightCounterFailureClosesRequest(t *testing.T) {
	ic := NewInflightCounter()
	ic.Track(event.NetworkEvent{Kind: event.KindRequest, RequestID: "a:0"})
	ic.Track(event.NetworkEvent{Kind: event.KindFailed, RequestID: "a:0"})
	if !ic.IdleFor(0) {
		t.Fatal("counter not idle after failure")
	}
}

func TestCompletionQuietPeriodWins(t *testing.T) {
	c := &Completion{
		Counter:      NewInflightCounter(),
		QuietPeriod:  10 * time.Millisecond,
		Timeout:      5 * time.Second,
		PollInterval: 2 * time.Millisecond,
	}
	if reason := c.Wait(context.Background()); reason != CompletedIdle {
		t.Errorf("reason = %s, want %s", reason, CompletedIdle)
	}
}

func TestCompletionTimeoutWins(t *testing.T) {
	ic := NewInflightCounter()
	// An open request that never settles keeps the quiet strategy pending.
	ic.Track(event.NetworkEvent{Kind: event.KindRequest, RequestID: "a:0"})
	c := &Completion{
		Counter:      ic,
		QuietPeriod:  10 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}
	if reason := c.Wait(context.Background()); reason != CompletedTimeout {
		t.Errorf("reason = %s, want %s", reason, CompletedTimeout)
	}
}

func TestCompletionCancel(t *testing.T) {
	ic := NewInflightCounter()
	ic.Track(event.NetworkEvent{Kind: event.KindRequest, RequestID: "a:0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Completion{Counter: ic, QuietPeriod: time.Hour, PollInterval: time.Millisecond}
	if reason := c.Wait(ctx); reason != CompletedCancel {
		t.Errorf("reason = %s, want %s", reason, CompletedCancel)
	}
}
