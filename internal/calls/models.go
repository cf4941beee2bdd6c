package calls

import "time"

// CallLeg is one call attempt/connection, workspace-scoped.
//
// Invariants:
// - ProviderCallID is set at most once, immutably, after creation.
// - Rows are never hard-deleted; terminal states are retained for audit.
// - Created by the action orchestrator (outbound, state=initiated) or
//   synthesized by the reconciler on the first event for an unseen inbound call.
// - State is mutated only by the reconciler or an explicit release action.

type CallLeg struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// ProviderCallID is the provider's identifier (e.g. Twilio CallSid).
	// Empty until the provider accepts the attempt.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Direction string `json:"direction" db:"direction"`
	From      string `json:"from" db:"from_number"`
	To        string `json:"to" db:"to_number"`

	State State `json:"state" db:"state"`

	// RawLastEvent is the last provider payload applied, kept opaque for debugging.
	RawLastEvent string `json:"raw_last_event,omitempty" db:"raw_last_event"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type State string

const (
	StateInitiated  State = "initiated"
	StateRinging    State = "ringing"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateBusy       State = "busy"
	StateNoAnswer   State = "no_answer"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

const (
	DirectionInbound     = "inbound"
	DirectionOutboundAPI = "outbound-api"
)

// Terminal reports whether the call can no longer change at the provider.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateBusy, StateNoAnswer, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// ActiveStates are the non-terminal states counted by the policy engine's
// concurrency gate.
func ActiveStates() []State {
	return []State{StateInitiated, StateRinging, StateInProgress}
}

// MapProviderStatus folds a provider-reported call status into the local state
// vocabulary. The mapping is a monotone overwrite of last-known-status, not a
// strict DFA: out-of-order deliveries simply become the new current state.
//
// Unrecognized statuses map to initiated instead of failing; callers should log
// them so a provider protocol change does not go unnoticed.
func MapProviderStatus(reported string) (State, bool) {
	switch reported {
	case "initiated", "queued":
		return StateInitiated, true
	case "ringing":
		return StateRinging, true
	case "in-progress", "answered":
		return StateInProgress, true
	case "completed":
		return StateCompleted, true
	case "busy":
		return StateBusy, true
	case "no-answer":
		return StateNoAnswer, true
	case "failed":
		return StateFailed, true
	case "canceled":
		return StateCanceled, true
	default:
		return StateInitiated, false
	}
}
