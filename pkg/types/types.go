// Package types defines the shared types used across all Voxline packages.
//
// These types form the lingua franca between the provider adapters, the
// pipeline coordinator, and the call session. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	// RoleCaller marks a turn spoken by the human caller.
	RoleCaller Role = "caller"

	// RoleAssistant marks a turn spoken by the system.
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged entry in a call's conversation history.
type Turn struct {
	// Role identifies who spoke this turn.
	Role Role

	// Text is the turn content. For caller turns this is the finalized
	// utterance; for assistant turns it is the completed reply text.
	Text string

	// Timestamp records when the turn was appended to history.
	Timestamp time.Time
}

// TranscriptFragment is one speech-to-text result emitted by a transcription
// stream. Both partial (interim) and final fragments use this type.
type TranscriptFragment struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this fragment is authoritative. Only final
	// fragments are accumulated into utterances; partials still count as
	// voice activity.
	IsFinal bool

	// Confidence is the provider's confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// VoiceProfile describes a synthesis voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which synthesis provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeedFactor float64
}
