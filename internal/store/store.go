// Package store is the persistence boundary for the control plane.
//
// There is one Store interface covering the operations the core needs
// (create/read/update/upsert by key plus transactional grouping), a Postgres
// implementation, and an in-memory implementation for tests. Services depend
// on the interface, never on SQL.
package store

import (
	"context"
	"errors"
	"time"

	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/workspace"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateEvent is returned by Tx.InsertEvent when the dedupe ledger
	// already holds the event key. The unique constraint on event_key is the
	// sole correctness mechanism against webhook re-delivery.
	ErrDuplicateEvent = errors.New("store: duplicate event")

	// ErrAlreadyDecided is returned when deciding an approval that already
	// transitioned away from pending.
	ErrAlreadyDecided = errors.New("store: approval already decided")
)

// Store is the full persistence contract.
//
// Plain methods each commit independently. WithinTx groups the reconcile unit:
// dedupe check, entity upsert, audit append and ledger insert either all commit
// or none do.
type Store interface {
	// Workspaces
	CreateWorkspace(ctx context.Context, ws workspace.Workspace) error
	GetWorkspace(ctx context.Context, id string) (workspace.Workspace, error)
	GetWorkspaceByToken(ctx context.Context, token string) (workspace.Workspace, error)
	// DefaultWorkspace returns the oldest workspace. Webhook intake uses it
	// when the provider payload carries nothing to resolve a tenant by.
	DefaultWorkspace(ctx context.Context) (workspace.Workspace, error)
	UpdateWorkspacePolicies(ctx context.Context, id string, p workspace.Policies) error
	UpdateWorkspaceProvider(ctx context.Context, id string, pc workspace.ProviderConfig) error

	// Call legs
	CreateCallLeg(ctx context.Context, leg calls.CallLeg) error
	// AttachCallProviderID sets the provider identifier exactly once; a second
	// attach attempt on the same leg is an error.
	AttachCallProviderID(ctx context.Context, legID, providerCallID string) error
	MarkCallFailed(ctx context.Context, legID, detail string) error
	// CompleteCall is the optimistic local mark used by the release action; the
	// provider webhook remains the source of truth.
	CompleteCall(ctx context.Context, workspaceID, providerCallID string, endedAt time.Time) error
	GetCallByProviderID(ctx context.Context, workspaceID, providerCallID string) (calls.CallLeg, error)
	CountActiveCalls(ctx context.Context, workspaceID string) (int, error)
	ListActiveCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error)
	ListRecentCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error)

	// SMS
	CreateSmsMessage(ctx context.Context, m sms.Message) error
	AttachSmsProviderID(ctx context.Context, msgID, providerMessageID string, status sms.Status) error
	MarkSmsFailed(ctx context.Context, msgID, detail string) error
	CountSmsMessages(ctx context.Context, workspaceID string) (int, error)
	ListRecentSms(ctx context.Context, workspaceID string, limit int) ([]sms.Message, error)

	// Conferences
	CreateConference(ctx context.Context, conf conference.Conference) error
	ListActiveConferences(ctx context.Context, workspaceID string) ([]conference.Conference, error)

	// Approvals
	CreateApproval(ctx context.Context, a approvals.Approval) error
	GetApproval(ctx context.Context, workspaceID, id string) (approvals.Approval, error)
	// DecideApproval performs the single allowed transition away from pending.
	// A foreign-workspace or unknown id yields ErrNotFound; a non-pending
	// approval yields ErrAlreadyDecided. No mutation happens on either.
	DecideApproval(ctx context.Context, workspaceID, id string, status approvals.Status, decidedBy, reason string, at time.Time) (approvals.Approval, error)
	ListPendingApprovals(ctx context.Context, workspaceID string) ([]approvals.Approval, error)
	CountPendingApprovals(ctx context.Context, workspaceID string) (int, error)

	// Audit
	AppendAudit(ctx context.Context, e audit.Event) error
	ListRecentAudit(ctx context.Context, workspaceID string, limit int) ([]audit.Event, error)

	// Dedupe ledger reads (the write path lives on Tx)
	CountEvents(ctx context.Context, eventKey string) (int, error)

	// Campaign queue
	CreateCampaign(ctx context.Context, camp campaigns.Campaign) error
	GetCampaign(ctx context.Context, workspaceID, id string) (campaigns.Campaign, error)
	ListCampaigns(ctx context.Context, workspaceID string) ([]campaigns.Campaign, error)
	// UpdateCampaignStatus moves a campaign between draft/active/paused/completed.
	// The worker only drains items of active campaigns.
	UpdateCampaignStatus(ctx context.Context, workspaceID, id string, status campaigns.Status, at time.Time) (campaigns.Campaign, error)
	AddCampaignItems(ctx context.Context, items []campaigns.Item) error
	NextPendingCampaignItem(ctx context.Context) (campaigns.Item, bool, error)
	UpdateCampaignItem(ctx context.Context, item campaigns.Item) error

	// WithinTx runs fn as one atomic unit. Any error aborts with no partial
	// writes; fn must not retain tx beyond its return.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the reconcile unit of work. All methods apply inside the surrounding
// transaction.
type Tx interface {
	SeenEvent(ctx context.Context, eventKey string) (bool, error)
	InsertEvent(ctx context.Context, ev WebhookEvent) error

	UpsertCallByProviderID(ctx context.Context, u CallUpsert) error
	UpsertSmsByProviderID(ctx context.Context, u SmsUpsert) error

	// UpsertConferenceByProviderID creates the conference if unseen and returns
	// its local id. When setState is true the state is overwritten; otherwise an
	// existing row keeps its state (the join-before-start case).
	UpsertConferenceByProviderID(ctx context.Context, u ConferenceUpsert) (string, error)
	EndConferenceByProviderID(ctx context.Context, providerConferenceID string, endedAt time.Time) error
	AddParticipant(ctx context.Context, p conference.Participant) error
	MarkParticipantLeft(ctx context.Context, providerConferenceID, callSID string, at time.Time) error

	AppendAudit(ctx context.Context, e audit.Event) error
}

// WebhookEvent is one row of the dedupe ledger: one distinct
// (provider, category, provider-id, status) tuple ever applied. Insertion is
// the commit signal that the event has been folded into entity state. Rows are
// never updated or deleted.
type WebhookEvent struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Provider string `json:"provider" db:"provider"`
	Category string `json:"category" db:"category"`

	EventKey string `json:"event_key" db:"event_key"`

	ProviderID string `json:"provider_id" db:"provider_id"`
	Status     string `json:"status" db:"status"`

	PayloadHash string `json:"payload_hash" db:"payload_hash"`
	Payload     string `json:"payload" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CallUpsert is the reconcile write for voice events: overwrite state on an
// existing leg (keyed by provider call id) or synthesize an inbound leg on
// first sight.
type CallUpsert struct {
	WorkspaceID    string
	ProviderCallID string

	State calls.State

	// Create-only fields, used when the leg is synthesized.
	Direction string
	From      string
	To        string

	RawEvent string
	Ended    bool
	Now      time.Time
}

// SmsUpsert mirrors CallUpsert for message events.
type SmsUpsert struct {
	WorkspaceID       string
	ProviderMessageID string

	Status sms.Status

	Direction sms.Direction
	From      string
	To        string
	Body      string
	BodyHash  string

	RawEvent string
	Now      time.Time
}

// ConferenceUpsert is the reconcile write for conference lifecycle events.
type ConferenceUpsert struct {
	WorkspaceID          string
	ProviderConferenceID string
	FriendlyName         string

	State    conference.State
	SetState bool

	Now time.Time
}
