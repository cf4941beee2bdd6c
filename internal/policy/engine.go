// Package policy gates provider-facing actions against per-workspace policy.
//
// Evaluation happens after payload validation and before any provider call or
// local row is created. A denied evaluation is not a rejection: the action is
// parked as a pending approval carrying its full payload, and a later human
// decision replays it unchanged.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/workspace"

	"github.com/google/uuid"
)

// Actor is who asked for the action, recorded on any approval hold.
type Actor struct {
	Source audit.ActorSource
	Label  string
}

// Decision is the outcome of policy evaluation. Authorized means the caller
// may execute now; otherwise ApprovalID names the hold and Reason explains it.
type Decision struct {
	Authorized bool
	ApprovalID string
	Reason     string
}

// Engine evaluates actions against workspace policy.
type Engine struct {
	store store.Store
	log   *slog.Logger
	clock func() time.Time
}

func New(st store.Store, log *slog.Logger) *Engine {
	return &Engine{
		store: st,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Evaluate runs the policy gates in order and stops at the first hold.
//
// Gate order matters: the concurrency gate runs before the explicit
// require-approval list, so an over-limit dial is held with the concurrency
// reason even when call.dial is also listed.
func (e *Engine) Evaluate(ctx context.Context, ws workspace.Workspace, kind actions.Kind, payload json.RawMessage, actor Actor) (Decision, error) {
	if kind == actions.KindCallDial {
		active, err := e.store.CountActiveCalls(ctx, ws.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: count active calls: %w", err)
		}
		ceiling := ws.Policies.CallCeiling()
		if active >= ceiling {
			reason := fmt.Sprintf("max concurrent calls reached (%d/%d)", active, ceiling)
			return e.hold(ctx, ws, kind, payload, actor, reason)
		}
	}

	if ws.Policies.RequiresApproval(string(kind)) {
		reason := fmt.Sprintf("action %s requires approval by workspace policy", kind)
		return e.hold(ctx, ws, kind, payload, actor, reason)
	}

	return Decision{Authorized: true}, nil
}

func (e *Engine) hold(ctx context.Context, ws workspace.Workspace, kind actions.Kind, payload json.RawMessage, actor Actor, reason string) (Decision, error) {
	a := approvals.Approval{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Status:      approvals.StatusPending,
		Kind:        kind,
		Payload:     payload,
		ActorSource: actor.Source,
		ActorLabel:  actor.Label,
		Reason:      reason,
		CreatedAt:   e.clock(),
	}
	if err := e.store.CreateApproval(ctx, a); err != nil {
		return Decision{}, fmt.Errorf("policy: create approval: %w", err)
	}

	e.log.Info("action held for approval",
		"workspace_id", ws.ID,
		"kind", kind,
		"approval_id", a.ID,
		"reason", reason)

	return Decision{ApprovalID: a.ID, Reason: reason}, nil
}
