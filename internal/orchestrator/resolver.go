package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/workspace"

	"github.com/google/uuid"
)

// Resolver applies human decisions to pending approvals. An approval is
// decided exactly once; on approve the original action payload is replayed
// byte-for-byte through the orchestrator.
type Resolver struct {
	store store.Store
	orch  *Orchestrator
	log   *slog.Logger
	clock func() time.Time

	wg sync.WaitGroup
}

func NewResolver(st store.Store, orch *Orchestrator, log *slog.Logger) *Resolver {
	return &Resolver{
		store: st,
		orch:  orch,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Decide transitions the approval and, when approved, kicks off asynchronous
// execution of the held action. The decision response does not wait for the
// provider; callers observe the result through entity state and the audit log.
func (r *Resolver) Decide(ctx context.Context, ws workspace.Workspace, approvalID string, approve bool, decidedBy, reason string) (approvals.Approval, error) {
	status := approvals.StatusDenied
	if approve {
		status = approvals.StatusApproved
	}

	a, err := r.store.DecideApproval(ctx, ws.ID, approvalID, status, decidedBy, reason, r.clock())
	if err != nil {
		return approvals.Approval{}, err
	}

	if !approve {
		r.log.Info("approval denied", "workspace_id", ws.ID, "approval_id", a.ID, "kind", a.Kind)
		return a, nil
	}

	// Detach from the request context: the decision is already durable and the
	// execution must not die with the HTTP request.
	execCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(execCtx, ws, a, decidedBy)
	}()
	return a, nil
}

// Wait blocks until all in-flight approved executions finish. Called at
// shutdown and by tests.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) execute(ctx context.Context, ws workspace.Workspace, a approvals.Approval, decidedBy string) {
	err := r.invoke(ctx, ws, a)
	if err != nil {
		r.log.Error("approved action failed",
			"workspace_id", ws.ID, "approval_id", a.ID, "kind", a.Kind, "err", err)
	} else {
		r.log.Info("approved action executed",
			"workspace_id", ws.ID, "approval_id", a.ID, "kind", a.Kind)
	}

	audited := audit.Event{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		ActorSource: audit.ActorSystem,
		ActorLabel:  "Approval Resolver",
		Action:      string(a.Kind) + ".approved",
		EntityType:  "approval",
		EntityID:    a.ID,
		OK:          err == nil,
		Data:        fmt.Sprintf(`{"decided_by":%q}`, decidedBy),
		CreatedAt:   r.clock(),
	}
	if err != nil {
		audited.Error = err.Error()
	}
	if auditErr := r.store.AppendAudit(ctx, audited); auditErr != nil {
		r.log.Error("audit approved action", "approval_id", a.ID, "err", auditErr)
	}
}

// invoke dispatches exhaustively on the action kind. A payload that fails to
// decode here means the approval row was tampered with or written by newer
// code; it is reported, never guessed at.
func (r *Resolver) invoke(ctx context.Context, ws workspace.Workspace, a approvals.Approval) error {
	switch a.Kind {
	case actions.KindCallDial:
		p, err := actions.DecodeDial(a.Payload)
		if err != nil {
			return err
		}
		_, err = r.orch.Dial(ctx, ws, p)
		return err

	case actions.KindSmsSend:
		p, err := actions.DecodeSms(a.Payload)
		if err != nil {
			return err
		}
		_, err = r.orch.SendSms(ctx, ws, p)
		return err

	case actions.KindConferenceMerge:
		p, err := actions.DecodeMerge(a.Payload)
		if err != nil {
			return err
		}
		_, err = r.orch.Merge(ctx, ws, p)
		return err

	case actions.KindCallHangup:
		p, err := actions.DecodeHangup(a.Payload)
		if err != nil {
			return err
		}
		return r.orch.Hangup(ctx, ws, p)

	default:
		return fmt.Errorf("orchestrator: unknown approved action kind %q", a.Kind)
	}
}
