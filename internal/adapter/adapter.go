// Package adapter defines how a host agent runtime reaches ClawGuard's
// decision pipeline. Adapters translate the host's wire events into typed
// hooks events and return the folded verdict in the host's reply shape.
package adapter

import (
	"context"

	"github.com/clawguard/clawguard/internal/hooks"
)

// Dispatcher runs an event through the registered checks. *hooks.Registry
// implements it.
type Dispatcher interface {
	Dispatch(ev *hooks.Event, hc hooks.Context) hooks.Result
}

// Adapter is the interface that host integrations implement.
type Adapter interface {
	// Name returns a human-readable adapter name (e.g. "openclaw").
	Name() string

	// Start serves host events until Stop is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// ConnectedClients returns the number of open streaming connections.
	ConnectedClients() int
}

var _ Dispatcher = (*hooks.Registry)(nil)
