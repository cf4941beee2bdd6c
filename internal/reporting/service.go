package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/workspace"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read surface reporting needs. Every method is
// workspace-scoped; *store.Store satisfies it.
type Repository interface {
	ListActiveCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error)
	ListRecentCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error)
	ListActiveConferences(ctx context.Context, workspaceID string) ([]conference.Conference, error)
	ListRecentSms(ctx context.Context, workspaceID string, limit int) ([]sms.Message, error)
	CountSmsMessages(ctx context.Context, workspaceID string) (int, error)
	CountPendingApprovals(ctx context.Context, workspaceID string) (int, error)
	ListRecentAudit(ctx context.Context, workspaceID string, limit int) ([]audit.Event, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

const defaultListLimit = 50

// StatusSnapshot assembles the live view of a workspace.
func (s *Service) StatusSnapshot(ctx context.Context, ws workspace.Workspace) (Snapshot, error) {
	if ws.ID == "" {
		return Snapshot{}, ErrInvalidRequest
	}

	out := Snapshot{
		WorkspaceID:        ws.ID,
		ProviderConfigured: ws.Provider.Configured(),
		GeneratedAt:        s.clock(),
	}

	var err error
	if out.ActiveCalls, err = s.repo.ListActiveCalls(ctx, ws.ID, defaultListLimit); err != nil {
		return Snapshot{}, fmt.Errorf("reporting: active calls: %w", err)
	}
	if out.ActiveConferences, err = s.repo.ListActiveConferences(ctx, ws.ID); err != nil {
		return Snapshot{}, fmt.Errorf("reporting: active conferences: %w", err)
	}
	if out.SmsTotal, err = s.repo.CountSmsMessages(ctx, ws.ID); err != nil {
		return Snapshot{}, fmt.Errorf("reporting: sms total: %w", err)
	}
	if out.PendingApprovals, err = s.repo.CountPendingApprovals(ctx, ws.ID); err != nil {
		return Snapshot{}, fmt.Errorf("reporting: pending approvals: %w", err)
	}
	return out, nil
}

// RecentActivity returns the latest calls, messages and audit rows.
func (s *Service) RecentActivity(ctx context.Context, workspaceID string, limit int) (Activity, error) {
	if workspaceID == "" {
		return Activity{}, ErrInvalidRequest
	}
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}

	out := Activity{WorkspaceID: workspaceID}
	var err error
	if out.Calls, err = s.repo.ListRecentCalls(ctx, workspaceID, limit); err != nil {
		return Activity{}, fmt.Errorf("reporting: recent calls: %w", err)
	}
	if out.Messages, err = s.repo.ListRecentSms(ctx, workspaceID, limit); err != nil {
		return Activity{}, fmt.Errorf("reporting: recent sms: %w", err)
	}
	if out.Audit, err = s.repo.ListRecentAudit(ctx, workspaceID, limit); err != nil {
		return Activity{}, fmt.Errorf("reporting: recent audit: %w", err)
	}
	return out, nil
}
