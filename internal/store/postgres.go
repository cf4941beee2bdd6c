package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/workspace"
	"telecom-control-plane/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres is the production Store.
//
// Expected schema (see migrations):
//
//	workspaces(id, name, api_token UNIQUE, policies JSONB, provider_config JSONB, created_at, updated_at)
//	call_legs(id, workspace_id, provider_call_id UNIQUE NULLS DISTINCT, direction, from_number, to_number,
//	          state, raw_last_event, started_at, ended_at, created_at, updated_at)
//	sms_messages(id, workspace_id, provider_message_id UNIQUE NULLS DISTINCT, direction, status,
//	             from_number, to_number, body, body_hash, error_message, raw_last_event,
//	             sent_at, delivered_at, created_at, updated_at)
//	conferences(id, workspace_id, provider_conference_id UNIQUE NULLS DISTINCT, friendly_name,
//	            state, started_at, ended_at, created_at, updated_at)
//	participants(id, conference_id REFERENCES conferences, call_sid, participant_sid,
//	             muted, on_hold, joined_at, left_at)
//	approvals(id, workspace_id, status, kind, payload JSONB, actor_source, actor_label,
//	          reason, decided_by, decision_reason, decided_at, created_at)
//	webhook_events(id, workspace_id, provider, category, event_key UNIQUE, provider_id,
//	               status, payload_hash, payload, created_at)
//	audit_log(id, workspace_id, actor_source, actor_label, action, entity_type, entity_id,
//	          ok, error, data, created_at)
//	campaigns(id, workspace_id, name, status, created_at, updated_at)
//	campaign_items(id, campaign_id REFERENCES campaigns, workspace_id, to_number, status,
//	               provider_call_id, error, attempts, created_at, updated_at)
//
// The UNIQUE constraint on webhook_events.event_key is the dedupe guarantee:
// two concurrent deliveries of the same event race on insert and exactly one
// commits.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Workspaces ---

func (p *Postgres) CreateWorkspace(ctx context.Context, ws workspace.Workspace) error {
	policies, err := json.Marshal(ws.Policies)
	if err != nil {
		return fmt.Errorf("store: marshal policies: %w", err)
	}
	provider, err := json.Marshal(ws.Provider)
	if err != nil {
		return fmt.Errorf("store: marshal provider config: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, api_token, policies, provider_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ws.ID, ws.Name, ws.APIToken, policies, provider, ws.CreatedAt, ws.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create workspace: %w", err)
	}
	return nil
}

const workspaceColumns = `id, name, api_token, policies, provider_config, created_at, updated_at`

func scanWorkspace(row *sql.Row) (workspace.Workspace, error) {
	var (
		ws       workspace.Workspace
		policies []byte
		provider []byte
	)
	err := row.Scan(&ws.ID, &ws.Name, &ws.APIToken, &policies, &provider, &ws.CreatedAt, &ws.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return workspace.Workspace{}, ErrNotFound
	}
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("store: scan workspace: %w", err)
	}
	if err := json.Unmarshal(policies, &ws.Policies); err != nil {
		return workspace.Workspace{}, fmt.Errorf("store: decode policies: %w", err)
	}
	if err := json.Unmarshal(provider, &ws.Provider); err != nil {
		return workspace.Workspace{}, fmt.Errorf("store: decode provider config: %w", err)
	}
	return ws, nil
}

func (p *Postgres) GetWorkspace(ctx context.Context, id string) (workspace.Workspace, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id)
	return scanWorkspace(row)
}

func (p *Postgres) GetWorkspaceByToken(ctx context.Context, token string) (workspace.Workspace, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE api_token = $1`, token)
	return scanWorkspace(row)
}

func (p *Postgres) DefaultWorkspace(ctx context.Context) (workspace.Workspace, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at ASC LIMIT 1`)
	return scanWorkspace(row)
}

func (p *Postgres) UpdateWorkspacePolicies(ctx context.Context, id string, pol workspace.Policies) error {
	policies, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("store: marshal policies: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE workspaces SET policies = $2, updated_at = NOW() WHERE id = $1`, id, policies)
	if err != nil {
		return fmt.Errorf("store: update policies: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) UpdateWorkspaceProvider(ctx context.Context, id string, pc workspace.ProviderConfig) error {
	provider, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("store: marshal provider config: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE workspaces SET provider_config = $2, updated_at = NOW() WHERE id = $1`, id, provider)
	if err != nil {
		return fmt.Errorf("store: update provider config: %w", err)
	}
	return requireRow(res)
}

// --- Call legs ---

func (p *Postgres) CreateCallLeg(ctx context.Context, leg calls.CallLeg) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO call_legs
			(id, workspace_id, provider_call_id, direction, from_number, to_number,
			 state, raw_last_event, started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		leg.ID, leg.WorkspaceID, leg.ProviderCallID, leg.Direction, leg.From, leg.To,
		leg.State, leg.RawLastEvent, leg.StartedAt, leg.EndedAt, leg.CreatedAt, leg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create call leg: %w", err)
	}
	return nil
}

func (p *Postgres) AttachCallProviderID(ctx context.Context, legID, providerCallID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE call_legs SET provider_call_id = $2, updated_at = NOW()
		WHERE id = $1 AND provider_call_id IS NULL`,
		legID, providerCallID,
	)
	if err != nil {
		return fmt.Errorf("store: attach call provider id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: call %s missing or provider id already set", legID)
	}
	return nil
}

func (p *Postgres) MarkCallFailed(ctx context.Context, legID, detail string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE call_legs SET state = $2, raw_last_event = $3, updated_at = NOW()
		WHERE id = $1`,
		legID, calls.StateFailed, detail,
	)
	if err != nil {
		return fmt.Errorf("store: mark call failed: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) CompleteCall(ctx context.Context, workspaceID, providerCallID string, endedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE call_legs SET state = $3, ended_at = $4, updated_at = $4
		WHERE workspace_id = $1 AND provider_call_id = $2`,
		workspaceID, providerCallID, calls.StateCompleted, endedAt,
	)
	if err != nil {
		return fmt.Errorf("store: complete call: %w", err)
	}
	return requireRow(res)
}

const callColumns = `id, workspace_id, COALESCE(provider_call_id, ''), direction,
	from_number, to_number, state, raw_last_event, started_at, ended_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallLeg(row rowScanner) (calls.CallLeg, error) {
	var leg calls.CallLeg
	err := row.Scan(&leg.ID, &leg.WorkspaceID, &leg.ProviderCallID, &leg.Direction,
		&leg.From, &leg.To, &leg.State, &leg.RawLastEvent,
		&leg.StartedAt, &leg.EndedAt, &leg.CreatedAt, &leg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.CallLeg{}, ErrNotFound
	}
	if err != nil {
		return calls.CallLeg{}, fmt.Errorf("store: scan call leg: %w", err)
	}
	return leg, nil
}

func (p *Postgres) GetCallByProviderID(ctx context.Context, workspaceID, providerCallID string) (calls.CallLeg, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM call_legs WHERE workspace_id = $1 AND provider_call_id = $2`,
		workspaceID, providerCallID)
	return scanCallLeg(row)
}

func (p *Postgres) CountActiveCalls(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM call_legs
		WHERE workspace_id = $1 AND state = ANY($2)`,
		workspaceID, statesParam(calls.ActiveStates()),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count active calls: %w", err)
	}
	return n, nil
}

func (p *Postgres) ListActiveCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM call_legs
		WHERE workspace_id = $1 AND state = ANY($2)
		ORDER BY created_at DESC LIMIT $3`,
		workspaceID, statesParam(calls.ActiveStates()), normLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list active calls: %w", err)
	}
	return collectCallLegs(rows)
}

func (p *Postgres) ListRecentCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+callColumns+` FROM call_legs
		WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		workspaceID, normLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list recent calls: %w", err)
	}
	return collectCallLegs(rows)
}

func collectCallLegs(rows *sql.Rows) ([]calls.CallLeg, error) {
	defer rows.Close()
	var out []calls.CallLeg
	for rows.Next() {
		leg, err := scanCallLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, leg)
	}
	return out, rows.Err()
}

// --- SMS ---

func (p *Postgres) CreateSmsMessage(ctx context.Context, m sms.Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sms_messages
			(id, workspace_id, provider_message_id, direction, status, from_number, to_number,
			 body, body_hash, error_message, raw_last_event, sent_at, delivered_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.WorkspaceID, m.ProviderMessageID, m.Direction, m.Status, m.From, m.To,
		m.Body, m.BodyHash, m.ErrorMessage, m.RawLastEvent, m.SentAt, m.DeliveredAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create sms message: %w", err)
	}
	return nil
}

func (p *Postgres) AttachSmsProviderID(ctx context.Context, msgID, providerMessageID string, status sms.Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sms_messages SET provider_message_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND provider_message_id IS NULL`,
		msgID, providerMessageID, status,
	)
	if err != nil {
		return fmt.Errorf("store: attach sms provider id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: message %s missing or provider id already set", msgID)
	}
	return nil
}

func (p *Postgres) MarkSmsFailed(ctx context.Context, msgID, detail string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE sms_messages SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`,
		msgID, sms.StatusFailed, detail,
	)
	if err != nil {
		return fmt.Errorf("store: mark sms failed: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) CountSmsMessages(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sms_messages WHERE workspace_id = $1`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count sms messages: %w", err)
	}
	return n, nil
}

const smsColumns = `id, workspace_id, COALESCE(provider_message_id, ''), direction, status,
	from_number, to_number, body, body_hash, error_message, raw_last_event,
	sent_at, delivered_at, created_at, updated_at`

func scanSms(row rowScanner) (sms.Message, error) {
	var m sms.Message
	err := row.Scan(&m.ID, &m.WorkspaceID, &m.ProviderMessageID, &m.Direction, &m.Status,
		&m.From, &m.To, &m.Body, &m.BodyHash, &m.ErrorMessage, &m.RawLastEvent,
		&m.SentAt, &m.DeliveredAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sms.Message{}, ErrNotFound
	}
	if err != nil {
		return sms.Message{}, fmt.Errorf("store: scan sms message: %w", err)
	}
	return m, nil
}

func (p *Postgres) ListRecentSms(ctx context.Context, workspaceID string, limit int) ([]sms.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+smsColumns+` FROM sms_messages
		WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		workspaceID, normLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list recent sms: %w", err)
	}
	defer rows.Close()
	var out []sms.Message
	for rows.Next() {
		m, err := scanSms(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Conferences ---

func (p *Postgres) CreateConference(ctx context.Context, conf conference.Conference) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conferences
			(id, workspace_id, provider_conference_id, friendly_name, state,
			 started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
		conf.ID, conf.WorkspaceID, conf.ProviderConferenceID, conf.FriendlyName, conf.State,
		conf.StartedAt, conf.EndedAt, conf.CreatedAt, conf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create conference: %w", err)
	}
	return nil
}

func (p *Postgres) ListActiveConferences(ctx context.Context, workspaceID string) ([]conference.Conference, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workspace_id, COALESCE(provider_conference_id, ''), friendly_name, state,
		       started_at, ended_at, created_at, updated_at
		FROM conferences
		WHERE workspace_id = $1 AND state <> $2
		ORDER BY created_at DESC`,
		workspaceID, conference.StateCompleted)
	if err != nil {
		return nil, fmt.Errorf("store: list active conferences: %w", err)
	}
	defer rows.Close()

	var out []conference.Conference
	for rows.Next() {
		var c conference.Conference
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.ProviderConferenceID, &c.FriendlyName,
			&c.State, &c.StartedAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conference: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		parts, err := p.listParticipants(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Participants = parts
	}
	return out, nil
}

func (p *Postgres) listParticipants(ctx context.Context, conferenceID string) ([]conference.Participant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conference_id, call_sid, participant_sid, muted, on_hold, joined_at, left_at
		FROM participants WHERE conference_id = $1 ORDER BY joined_at ASC`,
		conferenceID)
	if err != nil {
		return nil, fmt.Errorf("store: list participants: %w", err)
	}
	defer rows.Close()
	var out []conference.Participant
	for rows.Next() {
		var pt conference.Participant
		if err := rows.Scan(&pt.ID, &pt.ConferenceID, &pt.CallSID, &pt.ParticipantSID,
			&pt.Muted, &pt.OnHold, &pt.JoinedAt, &pt.LeftAt); err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// --- Approvals ---

const approvalColumns = `id, workspace_id, status, kind, payload, actor_source, actor_label,
	reason, decided_by, decision_reason, decided_at, created_at`

func scanApproval(row rowScanner) (approvals.Approval, error) {
	var (
		a       approvals.Approval
		payload []byte
	)
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Status, &a.Kind, &payload,
		&a.ActorSource, &a.ActorLabel, &a.Reason,
		&a.DecidedBy, &a.DecisionReason, &a.DecidedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return approvals.Approval{}, ErrNotFound
	}
	if err != nil {
		return approvals.Approval{}, fmt.Errorf("store: scan approval: %w", err)
	}
	a.Payload = json.RawMessage(payload)
	return a, nil
}

func (p *Postgres) CreateApproval(ctx context.Context, a approvals.Approval) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approvals
			(id, workspace_id, status, kind, payload, actor_source, actor_label,
			 reason, decided_by, decision_reason, decided_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.WorkspaceID, a.Status, a.Kind, []byte(a.Payload), a.ActorSource, a.ActorLabel,
		a.Reason, a.DecidedBy, a.DecisionReason, a.DecidedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create approval: %w", err)
	}
	return nil
}

func (p *Postgres) GetApproval(ctx context.Context, workspaceID, id string) (approvals.Approval, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id)
	return scanApproval(row)
}

func (p *Postgres) DecideApproval(ctx context.Context, workspaceID, id string, status approvals.Status, decidedBy, reason string, at time.Time) (approvals.Approval, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET status = $3, decided_by = $4, decision_reason = $5, decided_at = $6
		WHERE workspace_id = $1 AND id = $2 AND status = $7
		RETURNING `+approvalColumns,
		workspaceID, id, status, decidedBy, reason, at, approvals.StatusPending)

	a, err := scanApproval(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing approval from a lost decision race.
		if _, getErr := p.GetApproval(ctx, workspaceID, id); getErr == nil {
			return approvals.Approval{}, ErrAlreadyDecided
		}
		return approvals.Approval{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) ListPendingApprovals(ctx context.Context, workspaceID string) ([]approvals.Approval, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE workspace_id = $1 AND status = $2
		ORDER BY created_at DESC`,
		workspaceID, approvals.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("store: list pending approvals: %w", err)
	}
	defer rows.Close()
	var out []approvals.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) CountPendingApprovals(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE workspace_id = $1 AND status = $2`,
		workspaceID, approvals.StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count pending approvals: %w", err)
	}
	return n, nil
}

// --- Audit ---

func (p *Postgres) AppendAudit(ctx context.Context, e audit.Event) error {
	return insertAudit(ctx, p.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, ex execer, e audit.Event) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, workspace_id, actor_source, actor_label, action, entity_type, entity_id,
			 ok, error, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.WorkspaceID, e.ActorSource, e.ActorLabel, e.Action, e.EntityType, e.EntityID,
		e.OK, e.Error, e.Data, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (p *Postgres) ListRecentAudit(ctx context.Context, workspaceID string, limit int) ([]audit.Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workspace_id, actor_source, actor_label, action, entity_type, entity_id,
		       ok, error, data, created_at
		FROM audit_log
		WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		workspaceID, normLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: list recent audit: %w", err)
	}
	defer rows.Close()
	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.ActorSource, &e.ActorLabel, &e.Action,
			&e.EntityType, &e.EntityID, &e.OK, &e.Error, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Dedupe ledger ---

func (p *Postgres) CountEvents(ctx context.Context, eventKey string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE event_key = $1`, eventKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

// --- Campaign queue ---

func (p *Postgres) CreateCampaign(ctx context.Context, camp campaigns.Campaign) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, workspace_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		camp.ID, camp.WorkspaceID, camp.Name, camp.Status, camp.CreatedAt, camp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create campaign: %w", err)
	}
	return nil
}

func (p *Postgres) GetCampaign(ctx context.Context, workspaceID, id string) (campaigns.Campaign, error) {
	var camp campaigns.Campaign
	err := p.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID,
	).Scan(&camp.ID, &camp.WorkspaceID, &camp.Name, &camp.Status, &camp.CreatedAt, &camp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.Campaign{}, ErrNotFound
	}
	if err != nil {
		return campaigns.Campaign{}, fmt.Errorf("store: get campaign: %w", err)
	}
	return camp, nil
}

func (p *Postgres) ListCampaigns(ctx context.Context, workspaceID string) ([]campaigns.Campaign, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, status, created_at, updated_at
		FROM campaigns
		WHERE workspace_id = $1
		ORDER BY created_at DESC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	defer rows.Close()
	var out []campaigns.Campaign
	for rows.Next() {
		var camp campaigns.Campaign
		if err := rows.Scan(&camp.ID, &camp.WorkspaceID, &camp.Name, &camp.Status,
			&camp.CreatedAt, &camp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan campaign: %w", err)
		}
		out = append(out, camp)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateCampaignStatus(ctx context.Context, workspaceID, id string, status campaigns.Status, at time.Time) (campaigns.Campaign, error) {
	var camp campaigns.Campaign
	err := p.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET status = $3, updated_at = $4
		WHERE id = $1 AND workspace_id = $2
		RETURNING id, workspace_id, name, status, created_at, updated_at`,
		id, workspaceID, status, at,
	).Scan(&camp.ID, &camp.WorkspaceID, &camp.Name, &camp.Status, &camp.CreatedAt, &camp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.Campaign{}, ErrNotFound
	}
	if err != nil {
		return campaigns.Campaign{}, fmt.Errorf("store: update campaign status: %w", err)
	}
	return camp, nil
}

// AddCampaignItems inserts the batch in one transaction so a partially loaded
// target list never becomes dialable.
func (p *Postgres) AddCampaignItems(ctx context.Context, items []campaigns.Item) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return utils.WithTx(ctx, p.db, opts, func(ctx context.Context, tx *sql.Tx) error {
		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO campaign_items
					(id, campaign_id, workspace_id, to_number, status,
					 provider_call_id, error, attempts, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`,
				item.ID, item.CampaignID, item.WorkspaceID, item.To, item.Status,
				item.ProviderCallID, item.Error, item.Attempts, item.CreatedAt, item.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("store: add campaign item: %w", err)
			}
		}
		return nil
	})
}

func (p *Postgres) NextPendingCampaignItem(ctx context.Context) (campaigns.Item, bool, error) {
	var item campaigns.Item
	var providerCallID, itemErr sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT ci.id, ci.campaign_id, ci.workspace_id, ci.to_number, ci.status,
		       ci.provider_call_id, ci.error, ci.attempts, ci.created_at, ci.updated_at
		FROM campaign_items ci
		JOIN campaigns c ON c.id = ci.campaign_id
		WHERE ci.status = $1 AND c.status = $2
		ORDER BY ci.created_at ASC
		LIMIT 1`,
		campaigns.ItemPending, campaigns.StatusActive,
	).Scan(&item.ID, &item.CampaignID, &item.WorkspaceID, &item.To, &item.Status,
		&providerCallID, &itemErr, &item.Attempts, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.Item{}, false, nil
	}
	if err != nil {
		return campaigns.Item{}, false, fmt.Errorf("store: next pending campaign item: %w", err)
	}
	item.ProviderCallID = providerCallID.String
	item.Error = itemErr.String
	return item, true, nil
}

func (p *Postgres) UpdateCampaignItem(ctx context.Context, item campaigns.Item) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE campaign_items
		SET status = $2, provider_call_id = NULLIF($3, ''), error = NULLIF($4, ''),
		    attempts = $5, updated_at = $6
		WHERE id = $1`,
		item.ID, item.Status, item.ProviderCallID, item.Error, item.Attempts, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: update campaign item: %w", err)
	}
	return requireRow(res)
}

// --- Transaction ---

func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return utils.WithTx(ctx, p.db, opts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) SeenEvent(ctx context.Context, eventKey string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_key = $1)`, eventKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: seen event: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev WebhookEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO webhook_events
			(id, workspace_id, provider, category, event_key, provider_id, status,
			 payload_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.WorkspaceID, ev.Provider, ev.Category, ev.EventKey, ev.ProviderID, ev.Status,
		ev.PayloadHash, ev.Payload, ev.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertCallByProviderID(ctx context.Context, u CallUpsert) error {
	var endedAt *time.Time
	if u.Ended {
		ended := u.Now
		endedAt = &ended
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO call_legs
			(id, workspace_id, provider_call_id, direction, from_number, to_number,
			 state, raw_last_event, started_at, ended_at, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $8, $8)
		ON CONFLICT (provider_call_id) DO UPDATE SET
			state          = EXCLUDED.state,
			raw_last_event = EXCLUDED.raw_last_event,
			ended_at       = COALESCE(call_legs.ended_at, EXCLUDED.ended_at),
			updated_at     = EXCLUDED.updated_at`,
		u.WorkspaceID, u.ProviderCallID, u.Direction, u.From, u.To,
		u.State, u.RawEvent, u.Now, endedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert call by provider id: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertSmsByProviderID(ctx context.Context, u SmsUpsert) error {
	var deliveredAt *time.Time
	if u.Status == sms.StatusDelivered {
		delivered := u.Now
		deliveredAt = &delivered
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sms_messages
			(id, workspace_id, provider_message_id, direction, status, from_number, to_number,
			 body, body_hash, error_message, raw_last_event, sent_at, delivered_at, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, '', $9, $10, $11, $10, $10)
		ON CONFLICT (provider_message_id) DO UPDATE SET
			status         = EXCLUDED.status,
			raw_last_event = EXCLUDED.raw_last_event,
			delivered_at   = COALESCE(sms_messages.delivered_at, EXCLUDED.delivered_at),
			updated_at     = EXCLUDED.updated_at`,
		u.WorkspaceID, u.ProviderMessageID, u.Direction, u.Status, u.From, u.To,
		u.Body, u.BodyHash, u.RawEvent, u.Now, deliveredAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert sms by provider id: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertConferenceByProviderID(ctx context.Context, u ConferenceUpsert) (string, error) {
	var (
		id    string
		state conference.State
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, state FROM conferences WHERE provider_conference_id = $1 FOR UPDATE`,
		u.ProviderConferenceID).Scan(&id, &state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var startedAt *time.Time
		if u.State == conference.StateInProgress {
			started := u.Now
			startedAt = &started
		}
		err = t.tx.QueryRowContext(ctx, `
			INSERT INTO conferences
				(id, workspace_id, provider_conference_id, friendly_name, state,
				 started_at, created_at, updated_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $6)
			RETURNING id`,
			u.WorkspaceID, u.ProviderConferenceID, u.FriendlyName, u.State, startedAt, u.Now,
		).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("store: insert conference: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("store: upsert conference: %w", err)
	}

	next := state
	if u.SetState {
		next = u.State
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE conferences
		SET state = $2,
		    started_at = CASE WHEN $2 = $3 THEN COALESCE(started_at, $4) ELSE started_at END,
		    updated_at = $4
		WHERE id = $1`,
		id, next, conference.StateInProgress, u.Now,
	)
	if err != nil {
		return "", fmt.Errorf("store: update conference: %w", err)
	}
	return id, nil
}

func (t *pgTx) EndConferenceByProviderID(ctx context.Context, providerConferenceID string, endedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE conferences SET state = $2, ended_at = $3, updated_at = $3
		WHERE provider_conference_id = $1`,
		providerConferenceID, conference.StateCompleted, endedAt,
	)
	if err != nil {
		return fmt.Errorf("store: end conference: %w", err)
	}
	return nil
}

func (t *pgTx) AddParticipant(ctx context.Context, pt conference.Participant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO participants
			(id, conference_id, call_sid, participant_sid, muted, on_hold, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pt.ID, pt.ConferenceID, pt.CallSID, pt.ParticipantSID, pt.Muted, pt.OnHold, pt.JoinedAt, pt.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("store: add participant: %w", err)
	}
	return nil
}

func (t *pgTx) MarkParticipantLeft(ctx context.Context, providerConferenceID, callSID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE participants SET left_at = $3
		WHERE call_sid = $2 AND left_at IS NULL
		  AND conference_id = (SELECT id FROM conferences WHERE provider_conference_id = $1)`,
		providerConferenceID, callSID, at,
	)
	if err != nil {
		return fmt.Errorf("store: mark participant left: %w", err)
	}
	return nil
}

func (t *pgTx) AppendAudit(ctx context.Context, e audit.Event) error {
	return insertAudit(ctx, t.tx, e)
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func statesParam(states []calls.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
