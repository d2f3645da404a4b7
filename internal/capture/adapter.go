// Package capture turns low-level, possibly out-of-order protocol events
// into a coherent per-request lifecycle behind an adapter interface. The
// browser-debugger adapter is the reference implementation; a fixture
// adapter replays recorded protocol traffic.
package capture

import (
	"context"

	"github.com/mistricky/pagepocket-sub000/internal/event"
)

// Handlers receive the reconciled event stream. OnEvent is required;
// OnError receives non-fatal per-request errors (body fetches and the
// like) and may be nil.
type Handlers struct {
	OnEvent func(event.NetworkEvent)
	OnError func(error)
}

// Adapter starts a capture session against a target. Setup failures (a
// required protocol domain missing, an unreadable fixture) are fatal and
// returned here; everything after Start degrades per-request.
type Adapter interface {
	Start(ctx context.Context, target string, handlers Handlers) (Session, error)
}

// Session is a running capture. Stop is idempotent and releases any
// exclusively-owned transport resource.
type Session interface {
	// StopIntake rejects adapter signals from this point on. Body fetches
	// already issued still settle and emit their buffered responses.
	StopIntake()
	Stop() error
	// Wait blocks until every in-flight body fetch issued so far has
	// settled. Must be called before the snapshot is built.
	Wait(ctx context.Context) error
}

// Navigator is implemented by sessions that can drive the page to a URL.
type Navigator interface {
	Navigate(url string) error
}
