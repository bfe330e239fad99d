package record

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all writes non-fatal. If the underlying
// store fails, the error is logged and swallowed so a database outage never
// interrupts a live call. The IsDegraded method reports whether the store is
// currently experiencing failures.
//
// Guard implements [Store]. All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard creates a Guard wrapping the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// WriteCall attempts the write; on failure the error is logged and swallowed
// and the store is marked degraded. On success the degraded flag is cleared.
func (g *Guard) WriteCall(ctx context.Context, rec CallRecord) error {
	if err := g.store.WriteCall(ctx, rec); err != nil {
		g.degraded.Store(true)
		slog.Warn("record guard: WriteCall failed, swallowing error",
			"session_id", rec.SessionID,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// WriteTurn attempts the write; on failure the error is logged and swallowed
// and the store is marked degraded. On success the degraded flag is cleared.
func (g *Guard) WriteTurn(ctx context.Context, rec TurnRecord) error {
	if err := g.store.WriteTurn(ctx, rec); err != nil {
		g.degraded.Store(true)
		slog.Warn("record guard: WriteTurn failed, swallowing error",
			"session_id", rec.SessionID,
			"role", rec.Role,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Close closes the underlying store.
func (g *Guard) Close() error {
	return g.store.Close()
}

// IsDegraded reports whether the most recent store operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
