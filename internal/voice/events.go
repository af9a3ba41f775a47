// Package voice implements the realtime token→sentence→speech pipeline: it
// consumes a gateway text-delta stream and emits an ordered, multiplexed
// event sequence of raw tokens, segmented sentences, and synthesized audio.
package voice

// EventType discriminates pipeline output events.
type EventType string

const (
	// EventToken echoes one raw text delta in arrival order.
	EventToken EventType = "token"
	// EventText carries one segmented sentence with its index.
	EventText EventType = "text"
	// EventAudio carries the synthesized audio for one sentence index.
	EventAudio EventType = "audio"
	// EventDone terminates a successful run with the full response and
	// credit totals.
	EventDone EventType = "done"
	// EventError terminates a failed run. Emitted at most once.
	EventError EventType = "error"
)

// Event is one element of the pipeline output protocol.
// Index is meaningful for text and audio events; within each of those types
// indices are contiguous and strictly increasing from 0, and audio order
// always equals text order.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"` // Token delta or sentence text.
	Index   int       `json:"index"`
	Audio   []byte    `json:"audio,omitempty"` // Base64-encoded by JSON marshaling.

	// Done fields.
	Response         string  `json:"response,omitempty"`
	CreditsUsed      float64 `json:"credits_used,omitempty"`
	CreditsRemaining float64 `json:"credits_remaining,omitempty"`

	// Error field.
	Error string `json:"error,omitempty"`
}
