package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - For webhook reconciliation the event is written in the same transaction as
//   the entity mutation it describes; for action-path audits it is best-effort
//   and must not block the action result.

type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	ActorSource ActorSource `json:"actor_source" db:"actor_source"`
	// ActorLabel is a short human-readable actor description ("API User",
	// "Provider Webhook", an operator user id).
	ActorLabel string `json:"actor_label" db:"actor_label"`

	// Action is the dotted action name, e.g. "call.dial" or "call.status.completed".
	Action string `json:"action" db:"action"`

	EntityType string `json:"entity_type" db:"entity_type"`
	EntityID   string `json:"entity_id" db:"entity_id"`

	OK    bool   `json:"ok" db:"ok"`
	Error string `json:"error,omitempty" db:"error"`

	// Data is optional JSON with full details.
	Data string `json:"data,omitempty" db:"data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActorSource identifies where a state-changing request originated.
type ActorSource string

const (
	ActorSystem   ActorSource = "system"
	ActorAPI      ActorSource = "api"
	ActorCLI      ActorSource = "cli"
	ActorTelegram ActorSource = "telegram"
	ActorWeb      ActorSource = "web"
)

// ParseActorSource maps a client-declared source header to a known value,
// defaulting to api. "system" is reserved for the reconciler and cannot be
// claimed by a client.
func ParseActorSource(v string) ActorSource {
	switch ActorSource(v) {
	case ActorCLI:
		return ActorCLI
	case ActorTelegram:
		return ActorTelegram
	case ActorWeb:
		return ActorWeb
	default:
		return ActorAPI
	}
}
