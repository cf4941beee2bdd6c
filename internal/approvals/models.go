package approvals

import (
	"encoding/json"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/audit"
)

// Approval is a held action awaiting a human decision.
//
// Invariants:
// - Payload is immutable once created; it must be sufficient to re-execute the
//   original action and is replayed byte-for-byte on approval.
// - Status transitions exactly once away from pending; re-decision is rejected.

type Approval struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Status Status       `json:"status" db:"status"`
	Kind   actions.Kind `json:"kind" db:"kind"`

	// Payload is the full original action payload, stored verbatim.
	Payload json.RawMessage `json:"payload" db:"payload"`

	ActorSource audit.ActorSource `json:"actor_source" db:"actor_source"`
	ActorLabel  string            `json:"actor_label" db:"actor_label"`

	// Reason explains why the action was held (policy list, concurrency limit).
	Reason string `json:"reason,omitempty" db:"reason"`

	DecidedBy      string     `json:"decided_by,omitempty" db:"decided_by"`
	DecisionReason string     `json:"decision_reason,omitempty" db:"decision_reason"`
	DecidedAt      *time.Time `json:"decided_at,omitempty" db:"decided_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)
