package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/workspace"

	"github.com/google/uuid"
)

// Memory is an in-memory Store for tests. WithinTx snapshots all state up
// front and restores it when fn fails, which gives the same
// all-or-nothing semantics the Postgres implementation gets from a real
// transaction.

type Memory struct {
	mu sync.Mutex

	workspaces   map[string]workspace.Workspace
	callLegs     map[string]calls.CallLeg
	smsMessages  map[string]sms.Message
	conferences  map[string]conference.Conference
	participants map[string]conference.Participant
	approvalRows map[string]approvals.Approval
	auditLog     []audit.Event
	events       map[string]WebhookEvent
	campaignRows map[string]campaigns.Campaign
	itemRows     map[string]campaigns.Item
}

func NewMemory() *Memory {
	return &Memory{
		workspaces:   map[string]workspace.Workspace{},
		callLegs:     map[string]calls.CallLeg{},
		smsMessages:  map[string]sms.Message{},
		conferences:  map[string]conference.Conference{},
		participants: map[string]conference.Participant{},
		approvalRows: map[string]approvals.Approval{},
		events:       map[string]WebhookEvent{},
		campaignRows: map[string]campaigns.Campaign{},
		itemRows:     map[string]campaigns.Item{},
	}
}

var _ Store = (*Memory)(nil)

// --- Workspaces ---

func (m *Memory) CreateWorkspace(ctx context.Context, ws workspace.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[ws.ID]; ok {
		return fmt.Errorf("store: workspace %s exists", ws.ID)
	}
	m.workspaces[ws.ID] = ws
	return nil
}

func (m *Memory) GetWorkspace(ctx context.Context, id string) (workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return workspace.Workspace{}, ErrNotFound
	}
	return ws, nil
}

func (m *Memory) GetWorkspaceByToken(ctx context.Context, token string) (workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.workspaces {
		if ws.APIToken == token {
			return ws, nil
		}
	}
	return workspace.Workspace{}, ErrNotFound
}

func (m *Memory) DefaultWorkspace(ctx context.Context) (workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out workspace.Workspace
	found := false
	for _, ws := range m.workspaces {
		if !found || ws.CreatedAt.Before(out.CreatedAt) {
			out = ws
			found = true
		}
	}
	if !found {
		return workspace.Workspace{}, ErrNotFound
	}
	return out, nil
}

func (m *Memory) UpdateWorkspacePolicies(ctx context.Context, id string, p workspace.Policies) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return ErrNotFound
	}
	ws.Policies = p
	ws.UpdatedAt = time.Now().UTC()
	m.workspaces[id] = ws
	return nil
}

func (m *Memory) UpdateWorkspaceProvider(ctx context.Context, id string, pc workspace.ProviderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return ErrNotFound
	}
	ws.Provider = pc
	ws.UpdatedAt = time.Now().UTC()
	m.workspaces[id] = ws
	return nil
}

// --- Call legs ---

func (m *Memory) CreateCallLeg(ctx context.Context, leg calls.CallLeg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLegs[leg.ID] = leg
	return nil
}

func (m *Memory) AttachCallProviderID(ctx context.Context, legID, providerCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.callLegs[legID]
	if !ok {
		return ErrNotFound
	}
	if leg.ProviderCallID != "" {
		return fmt.Errorf("store: call %s already has a provider id", legID)
	}
	leg.ProviderCallID = providerCallID
	leg.UpdatedAt = time.Now().UTC()
	m.callLegs[legID] = leg
	return nil
}

func (m *Memory) MarkCallFailed(ctx context.Context, legID, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.callLegs[legID]
	if !ok {
		return ErrNotFound
	}
	leg.State = calls.StateFailed
	leg.RawLastEvent = detail
	leg.UpdatedAt = time.Now().UTC()
	m.callLegs[legID] = leg
	return nil
}

func (m *Memory) CompleteCall(ctx context.Context, workspaceID, providerCallID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, leg := range m.callLegs {
		if leg.WorkspaceID == workspaceID && leg.ProviderCallID == providerCallID {
			leg.State = calls.StateCompleted
			leg.EndedAt = &endedAt
			leg.UpdatedAt = endedAt
			m.callLegs[id] = leg
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) GetCallByProviderID(ctx context.Context, workspaceID, providerCallID string) (calls.CallLeg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, leg := range m.callLegs {
		if leg.WorkspaceID == workspaceID && leg.ProviderCallID == providerCallID {
			return leg, nil
		}
	}
	return calls.CallLeg{}, ErrNotFound
}

func (m *Memory) CountActiveCalls(ctx context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, leg := range m.callLegs {
		if leg.WorkspaceID == workspaceID && !leg.State.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListActiveCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.CallLeg
	for _, leg := range m.callLegs {
		if leg.WorkspaceID == workspaceID && !leg.State.Terminal() {
			out = append(out, leg)
		}
	}
	sortByCreatedDesc(out, func(l calls.CallLeg) time.Time { return l.CreatedAt })
	return clip(out, limit), nil
}

func (m *Memory) ListRecentCalls(ctx context.Context, workspaceID string, limit int) ([]calls.CallLeg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []calls.CallLeg
	for _, leg := range m.callLegs {
		if leg.WorkspaceID == workspaceID {
			out = append(out, leg)
		}
	}
	sortByCreatedDesc(out, func(l calls.CallLeg) time.Time { return l.CreatedAt })
	return clip(out, limit), nil
}

// --- SMS ---

func (m *Memory) CreateSmsMessage(ctx context.Context, msg sms.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.smsMessages[msg.ID] = msg
	return nil
}

func (m *Memory) AttachSmsProviderID(ctx context.Context, msgID, providerMessageID string, status sms.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.smsMessages[msgID]
	if !ok {
		return ErrNotFound
	}
	if msg.ProviderMessageID != "" {
		return fmt.Errorf("store: message %s already has a provider id", msgID)
	}
	msg.ProviderMessageID = providerMessageID
	msg.Status = status
	msg.UpdatedAt = time.Now().UTC()
	m.smsMessages[msgID] = msg
	return nil
}

func (m *Memory) MarkSmsFailed(ctx context.Context, msgID, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.smsMessages[msgID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = sms.StatusFailed
	msg.ErrorMessage = detail
	msg.UpdatedAt = time.Now().UTC()
	m.smsMessages[msgID] = msg
	return nil
}

func (m *Memory) CountSmsMessages(ctx context.Context, workspaceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.smsMessages {
		if msg.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListRecentSms(ctx context.Context, workspaceID string, limit int) ([]sms.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sms.Message
	for _, msg := range m.smsMessages {
		if msg.WorkspaceID == workspaceID {
			out = append(out, msg)
		}
	}
	sortByCreatedDesc(out, func(s sms.Message) time.Time { return s.CreatedAt })
	return clip(out, limit), nil
}

// --- Conferences ---

func (m *Memory) CreateConference(ctx context.Context, conf conference.Conference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conferences[conf.ID] = conf
	return nil
}

func (m *Memory) ListActiveConferences(ctx context.Context, workspaceID string) ([]conference.Conference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conference.Conference
	for _, conf := range m.conferences {
		if conf.WorkspaceID != workspaceID || conf.State == conference.StateCompleted {
			continue
		}
		for _, p := range m.participants {
			if p.ConferenceID == conf.ID {
				conf.Participants = append(conf.Participants, p)
			}
		}
		out = append(out, conf)
	}
	sortByCreatedDesc(out, func(c conference.Conference) time.Time { return c.CreatedAt })
	return out, nil
}

// --- Approvals ---

func (m *Memory) CreateApproval(ctx context.Context, a approvals.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvalRows[a.ID] = a
	return nil
}

func (m *Memory) GetApproval(ctx context.Context, workspaceID, id string) (approvals.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvalRows[id]
	if !ok || a.WorkspaceID != workspaceID {
		return approvals.Approval{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) DecideApproval(ctx context.Context, workspaceID, id string, status approvals.Status, decidedBy, reason string, at time.Time) (approvals.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvalRows[id]
	if !ok || a.WorkspaceID != workspaceID {
		return approvals.Approval{}, ErrNotFound
	}
	if a.Status != approvals.StatusPending {
		return approvals.Approval{}, ErrAlreadyDecided
	}
	a.Status = status
	a.DecidedBy = decidedBy
	a.DecisionReason = reason
	a.DecidedAt = &at
	m.approvalRows[id] = a
	return a, nil
}

func (m *Memory) ListPendingApprovals(ctx context.Context, workspaceID string) ([]approvals.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approvals.Approval
	for _, a := range m.approvalRows {
		if a.WorkspaceID == workspaceID && a.Status == approvals.StatusPending {
			out = append(out, a)
		}
	}
	sortByCreatedDesc(out, func(a approvals.Approval) time.Time { return a.CreatedAt })
	return out, nil
}

func (m *Memory) CountPendingApprovals(ctx context.Context, workspaceID string) (int, error) {
	pending, err := m.ListPendingApprovals(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// --- Audit ---

func (m *Memory) AppendAudit(ctx context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(e)
	return nil
}

func (m *Memory) appendAuditLocked(e audit.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.auditLog = append(m.auditLog, e)
}

func (m *Memory) ListRecentAudit(ctx context.Context, workspaceID string, limit int) ([]audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for i := len(m.auditLog) - 1; i >= 0; i-- {
		if m.auditLog[i].WorkspaceID == workspaceID {
			out = append(out, m.auditLog[i])
		}
	}
	return clip(out, limit), nil
}

// AuditEvents returns every audit row; test helper.
func (m *Memory) AuditEvents() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Event, len(m.auditLog))
	copy(out, m.auditLog)
	return out
}

// --- Dedupe ledger ---

func (m *Memory) CountEvents(ctx context.Context, eventKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventKey]; ok {
		return 1, nil
	}
	return 0, nil
}

// --- Campaign queue ---

func (m *Memory) CreateCampaign(ctx context.Context, camp campaigns.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaignRows[camp.ID] = camp
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, workspaceID, id string) (campaigns.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	camp, ok := m.campaignRows[id]
	if !ok || camp.WorkspaceID != workspaceID {
		return campaigns.Campaign{}, ErrNotFound
	}
	return camp, nil
}

func (m *Memory) ListCampaigns(ctx context.Context, workspaceID string) ([]campaigns.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []campaigns.Campaign
	for _, camp := range m.campaignRows {
		if camp.WorkspaceID == workspaceID {
			out = append(out, camp)
		}
	}
	sortByCreatedDesc(out, func(c campaigns.Campaign) time.Time { return c.CreatedAt })
	return out, nil
}

func (m *Memory) UpdateCampaignStatus(ctx context.Context, workspaceID, id string, status campaigns.Status, at time.Time) (campaigns.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	camp, ok := m.campaignRows[id]
	if !ok || camp.WorkspaceID != workspaceID {
		return campaigns.Campaign{}, ErrNotFound
	}
	camp.Status = status
	camp.UpdatedAt = at
	m.campaignRows[id] = camp
	return camp, nil
}

func (m *Memory) AddCampaignItems(ctx context.Context, items []campaigns.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.itemRows[item.ID] = item
	}
	return nil
}

func (m *Memory) NextPendingCampaignItem(ctx context.Context) (campaigns.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		out   campaigns.Item
		found bool
	)
	for _, item := range m.itemRows {
		if item.Status != campaigns.ItemPending {
			continue
		}
		camp, ok := m.campaignRows[item.CampaignID]
		if !ok || camp.Status != campaigns.StatusActive {
			continue
		}
		if !found || item.CreatedAt.Before(out.CreatedAt) {
			out = item
			found = true
		}
	}
	return out, found, nil
}

func (m *Memory) UpdateCampaignItem(ctx context.Context, item campaigns.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.itemRows[item.ID]; !ok {
		return ErrNotFound
	}
	m.itemRows[item.ID] = item
	return nil
}

// --- Transaction ---

func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	callLegs     map[string]calls.CallLeg
	smsMessages  map[string]sms.Message
	conferences  map[string]conference.Conference
	participants map[string]conference.Participant
	auditLen     int
	events       map[string]WebhookEvent
}

func (m *Memory) snapshot() memSnapshot {
	return memSnapshot{
		callLegs:     copyMap(m.callLegs),
		smsMessages:  copyMap(m.smsMessages),
		conferences:  copyMap(m.conferences),
		participants: copyMap(m.participants),
		auditLen:     len(m.auditLog),
		events:       copyMap(m.events),
	}
}

func (m *Memory) restore(s memSnapshot) {
	m.callLegs = s.callLegs
	m.smsMessages = s.smsMessages
	m.conferences = s.conferences
	m.participants = s.participants
	m.auditLog = m.auditLog[:s.auditLen]
	m.events = s.events
}

// memTx mutates Memory directly; the caller holds the lock for the whole
// transaction and rollback is snapshot restore.
type memTx struct {
	m *Memory
}

var _ Tx = (*memTx)(nil)

func (t *memTx) SeenEvent(ctx context.Context, eventKey string) (bool, error) {
	_, ok := t.m.events[eventKey]
	return ok, nil
}

func (t *memTx) InsertEvent(ctx context.Context, ev WebhookEvent) error {
	if _, ok := t.m.events[ev.EventKey]; ok {
		return ErrDuplicateEvent
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	t.m.events[ev.EventKey] = ev
	return nil
}

func (t *memTx) UpsertCallByProviderID(ctx context.Context, u CallUpsert) error {
	for id, leg := range t.m.callLegs {
		if leg.ProviderCallID != u.ProviderCallID {
			continue
		}
		leg.State = u.State
		leg.RawLastEvent = u.RawEvent
		leg.UpdatedAt = u.Now
		if u.Ended && leg.EndedAt == nil {
			ended := u.Now
			leg.EndedAt = &ended
		}
		t.m.callLegs[id] = leg
		return nil
	}

	leg := calls.CallLeg{
		ID:             uuid.NewString(),
		WorkspaceID:    u.WorkspaceID,
		ProviderCallID: u.ProviderCallID,
		Direction:      u.Direction,
		From:           u.From,
		To:             u.To,
		State:          u.State,
		RawLastEvent:   u.RawEvent,
		StartedAt:      u.Now,
		CreatedAt:      u.Now,
		UpdatedAt:      u.Now,
	}
	if u.Ended {
		ended := u.Now
		leg.EndedAt = &ended
	}
	t.m.callLegs[leg.ID] = leg
	return nil
}

func (t *memTx) UpsertSmsByProviderID(ctx context.Context, u SmsUpsert) error {
	for id, msg := range t.m.smsMessages {
		if msg.ProviderMessageID != u.ProviderMessageID {
			continue
		}
		msg.Status = u.Status
		msg.RawLastEvent = u.RawEvent
		msg.UpdatedAt = u.Now
		if u.Status == sms.StatusDelivered && msg.DeliveredAt == nil {
			delivered := u.Now
			msg.DeliveredAt = &delivered
		}
		t.m.smsMessages[id] = msg
		return nil
	}

	msg := sms.Message{
		ID:                uuid.NewString(),
		WorkspaceID:       u.WorkspaceID,
		ProviderMessageID: u.ProviderMessageID,
		Direction:         u.Direction,
		Status:            u.Status,
		From:              u.From,
		To:                u.To,
		Body:              u.Body,
		BodyHash:          u.BodyHash,
		RawLastEvent:      u.RawEvent,
		SentAt:            u.Now,
		CreatedAt:         u.Now,
		UpdatedAt:         u.Now,
	}
	if u.Status == sms.StatusDelivered {
		delivered := u.Now
		msg.DeliveredAt = &delivered
	}
	t.m.smsMessages[msg.ID] = msg
	return nil
}

func (t *memTx) UpsertConferenceByProviderID(ctx context.Context, u ConferenceUpsert) (string, error) {
	for id, conf := range t.m.conferences {
		if conf.ProviderConferenceID != u.ProviderConferenceID {
			continue
		}
		if u.SetState {
			conf.State = u.State
		}
		if conf.State == conference.StateInProgress && conf.StartedAt == nil {
			started := u.Now
			conf.StartedAt = &started
		}
		conf.UpdatedAt = u.Now
		t.m.conferences[id] = conf
		return id, nil
	}

	conf := conference.Conference{
		ID:                   uuid.NewString(),
		WorkspaceID:          u.WorkspaceID,
		ProviderConferenceID: u.ProviderConferenceID,
		FriendlyName:         u.FriendlyName,
		State:                u.State,
		CreatedAt:            u.Now,
		UpdatedAt:            u.Now,
	}
	if conf.State == conference.StateInProgress {
		started := u.Now
		conf.StartedAt = &started
	}
	t.m.conferences[conf.ID] = conf
	return conf.ID, nil
}

func (t *memTx) EndConferenceByProviderID(ctx context.Context, providerConferenceID string, endedAt time.Time) error {
	for id, conf := range t.m.conferences {
		if conf.ProviderConferenceID != providerConferenceID {
			continue
		}
		conf.State = conference.StateCompleted
		conf.EndedAt = &endedAt
		conf.UpdatedAt = endedAt
		t.m.conferences[id] = conf
		return nil
	}
	// Ending a never-seen conference is a no-op; the ledger still records it.
	return nil
}

func (t *memTx) AddParticipant(ctx context.Context, p conference.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	t.m.participants[p.ID] = p
	return nil
}

func (t *memTx) MarkParticipantLeft(ctx context.Context, providerConferenceID, callSID string, at time.Time) error {
	var confID string
	for id, conf := range t.m.conferences {
		if conf.ProviderConferenceID == providerConferenceID {
			confID = id
			break
		}
	}
	if confID == "" {
		return nil
	}
	for id, p := range t.m.participants {
		if p.ConferenceID == confID && p.CallSID == callSID && p.LeftAt == nil {
			left := at
			p.LeftAt = &left
			t.m.participants[id] = p
		}
	}
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, e audit.Event) error {
	t.m.appendAuditLocked(e)
	return nil
}

// --- helpers ---

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortByCreatedDesc[T any](items []T, created func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool {
		return created(items[i]).After(created(items[j]))
	})
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
