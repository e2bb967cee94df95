package domain

import (
	"encoding/json"
	"time"
)

// Session is the server-held continuity token scoping one user's
// single-image conversation. The conversation state itself lives in the
// session store; Session carries only identity and bookkeeping.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one completed half of an exchange: either the user's query or the
// assistant's answer. History is append-only and ordered.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Artifact is the re-encoded, size-bounded image committed to a session.
// Once committed it is immutable for the life of the session.
type Artifact struct {
	Data      []byte `json:"-"`
	MediaType string `json:"media_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// TurnRequest is the ephemeral input to one run of the orchestrator.
// It is never stored.
type TurnRequest struct {
	Query string
	// Image is the raw upload, if the request carried one. May be nil on
	// any turn; must be non-nil if the session has no image yet.
	Image          []byte
	ImageMediaType string
}

// TurnResult is what the orchestrator returns for a successful turn.
type TurnResult struct {
	TurnID string `json:"turn_id"`
	Answer string `json:"answer"`
	// Turns is the history length after the exchange was committed.
	Turns int `json:"turns"`
}

// Event is a trace record of one step of a turn's lifecycle.
type Event struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id,omitempty"`
	Ts        int64           `json:"ts"` // Unix milliseconds
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ModelCallDonePayload is the payload of a model_call_done event.
type ModelCallDonePayload struct {
	Model            string `json:"model"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}
