// Package record persists call records and per-turn transcripts.
//
// Persistence is best-effort: a failing store must never take a live call
// down with it. Sessions write through [Guard], which logs and swallows
// store errors while flagging the store as degraded.
package record

import (
	"context"
	"time"
)

// CallRecord summarizes one finished or in-progress call.
type CallRecord struct {
	// SessionID is the call session identifier.
	SessionID string

	// CallerID is the verified directory ID, empty while unverified.
	CallerID string

	// Verification is the terminal verification outcome: "pending",
	// "verified", or "unverified".
	Verification string

	// StartedAt and EndedAt bound the call. EndedAt is zero while the call
	// is live.
	StartedAt time.Time
	EndedAt   time.Time

	// EndReason records why the call ended: "caller_hangup", "directive",
	// "hard_limit", "handoff", or "shutdown".
	EndReason string
}

// TurnRecord is one conversation turn as persisted.
type TurnRecord struct {
	// SessionID ties the turn to its call.
	SessionID string

	// Role is "caller" or "assistant".
	Role string

	// Text is the turn content. For interrupted assistant turns this is the
	// partial text generated before cancellation.
	Text string

	// Interrupted marks an assistant reply that was cut off by barge-in.
	// Interrupted turns are persisted for the record but excluded from the
	// history sent back to generation.
	Interrupted bool

	// Timestamp is when the turn completed (or was interrupted).
	Timestamp time.Time
}

// Store persists call and turn records.
type Store interface {
	// WriteCall inserts or updates the record for rec.SessionID.
	WriteCall(ctx context.Context, rec CallRecord) error

	// WriteTurn appends a turn record.
	WriteTurn(ctx context.Context, rec TurnRecord) error

	// Close releases underlying resources.
	Close() error
}
