// Package domain defines the core domain models for the analysis service.
package domain

// TurnState represents the state of a single turn as it moves through the
// orchestrator. The machine runs once per turn, not per session.
type TurnState string

const (
	TurnStateReceived        TurnState = "received"
	TurnStateValidated       TurnState = "validated"
	TurnStateImageResolved   TurnState = "image_resolved"
	TurnStateModelDispatched TurnState = "model_dispatched"
	TurnStateSucceeded       TurnState = "succeeded"
	TurnStateFailed          TurnState = "failed"
)

// Terminal reports whether the state ends the turn.
func (s TurnState) Terminal() bool {
	return s == TurnStateSucceeded || s == TurnStateFailed
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EventType represents the type of a trace event.
type EventType string

const (
	EventTypeTurnStarted      EventType = "turn_started"
	EventTypeImageCommitted   EventType = "image_committed"
	EventTypeModelCallStarted EventType = "model_call_started"
	EventTypeModelCallDone    EventType = "model_call_done"
	EventTypeTurnSucceeded    EventType = "turn_succeeded"
	EventTypeTurnFailed       EventType = "turn_failed"
	EventTypeSessionReset     EventType = "session_reset"
)
