package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReconcileSynthesizesInboundCall(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	out, err := r.Reconcile(ctx, Event{
		Provider:    "twilio",
		Category:    CategoryVoice,
		ProviderID:  "CA100",
		Status:      "ringing",
		WorkspaceID: "ws1",
		From:        "+15550001111",
		To:          "+15550002222",
		Raw:         `{"CallSid":"CA100"}`,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.Duplicate {
		t.Fatal("first delivery reported as duplicate")
	}

	leg, err := mem.GetCallByProviderID(ctx, "ws1", "CA100")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if leg.State != calls.StateRinging {
		t.Fatalf("state = %s, want ringing", leg.State)
	}
	if leg.Direction != calls.DirectionInbound {
		t.Fatalf("direction = %s, want inbound", leg.Direction)
	}
	if leg.From != "+15550001111" || leg.To != "+15550002222" {
		t.Fatalf("numbers not carried: from=%s to=%s", leg.From, leg.To)
	}

	n, err := mem.CountEvents(ctx, out.EventKey)
	if err != nil || n != 1 {
		t.Fatalf("ledger count = %d (err=%v), want 1", n, err)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	ev := Event{
		Provider:    "twilio",
		Category:    CategoryVoice,
		ProviderID:  "CA200",
		Status:      "completed",
		WorkspaceID: "ws1",
	}
	if _, err := r.Reconcile(ctx, ev); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	out, err := r.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !out.Duplicate {
		t.Fatal("re-delivery not reported as duplicate")
	}

	if n, _ := mem.CountEvents(ctx, ev.Key()); n != 1 {
		t.Fatalf("ledger count = %d, want 1", n)
	}
	if got := len(mem.AuditEvents()); got != 1 {
		t.Fatalf("audit rows = %d, want 1 (duplicate must not re-audit)", got)
	}
}

func TestReconcileOutOfOrderKeepsLastWrite(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	base := Event{
		Provider:    "twilio",
		Category:    CategoryVoice,
		ProviderID:  "CA300",
		WorkspaceID: "ws1",
	}

	completed := base
	completed.Status = "completed"
	if _, err := r.Reconcile(ctx, completed); err != nil {
		t.Fatalf("completed: %v", err)
	}

	// A late ringing delivery is a distinct key and still applies.
	ringing := base
	ringing.Status = "ringing"
	out, err := r.Reconcile(ctx, ringing)
	if err != nil {
		t.Fatalf("ringing: %v", err)
	}
	if out.Duplicate {
		t.Fatal("distinct status treated as duplicate")
	}

	leg, err := mem.GetCallByProviderID(ctx, "ws1", "CA300")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if leg.State != calls.StateRinging {
		t.Fatalf("state = %s, want ringing (last write wins)", leg.State)
	}
	if leg.EndedAt == nil {
		t.Fatal("ended_at cleared by late non-terminal event")
	}
}

func TestReconcileUnknownStatusDefaults(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, Event{
		Provider:    "twilio",
		Category:    CategoryVoice,
		ProviderID:  "CA400",
		Status:      "wobbly",
		WorkspaceID: "ws1",
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	leg, err := mem.GetCallByProviderID(ctx, "ws1", "CA400")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if leg.State != calls.StateInitiated {
		t.Fatalf("state = %s, want initiated fallback", leg.State)
	}
}

func TestReconcileInboundSms(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, Event{
		Provider:    "twilio",
		Category:    CategorySms,
		ProviderID:  "SM100",
		Status:      "received",
		WorkspaceID: "ws1",
		From:        "+15550001111",
		To:          "+15550002222",
		Body:        "hello there",
	}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	msgs, err := mem.ListRecentSms(ctx, "ws1", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %d (err=%v), want 1", len(msgs), err)
	}
	m := msgs[0]
	if m.Status != sms.StatusReceived || m.Direction != sms.DirectionInbound {
		t.Fatalf("status=%s direction=%s", m.Status, m.Direction)
	}
	if m.BodyHash != sms.HashBody("hello there") {
		t.Fatal("body hash not computed from body")
	}
}

func TestReconcileConferenceJoinBeforeStart(t *testing.T) {
	mem := store.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(mem, testLogger()).WithClock(fixedClock(now))
	ctx := context.Background()

	base := Event{
		Provider:     "twilio",
		Category:     CategoryConference,
		ProviderID:   "CF100",
		WorkspaceID:  "ws1",
		FriendlyName: "merge-abc",
	}

	join := base
	join.Status = conference.EventParticipantJoin
	join.CallSID = "CA100"
	join.ParticipantSID = "PA100"
	if _, err := r.Reconcile(ctx, join); err != nil {
		t.Fatalf("join: %v", err)
	}

	confs, err := mem.ListActiveConferences(ctx, "ws1")
	if err != nil || len(confs) != 1 {
		t.Fatalf("conferences = %d (err=%v), want 1", len(confs), err)
	}
	if confs[0].State != conference.StateCreated {
		t.Fatalf("state = %s, want created before start arrives", confs[0].State)
	}
	if len(confs[0].Participants) != 1 || confs[0].Participants[0].CallSID != "CA100" {
		t.Fatalf("participant not attached: %+v", confs[0].Participants)
	}

	start := base
	start.Status = conference.EventStart
	if _, err := r.Reconcile(ctx, start); err != nil {
		t.Fatalf("start: %v", err)
	}

	confs, _ = mem.ListActiveConferences(ctx, "ws1")
	if confs[0].State != conference.StateInProgress {
		t.Fatalf("state = %s, want in_progress", confs[0].State)
	}
	if confs[0].StartedAt == nil {
		t.Fatal("started_at not set on start")
	}

	leave := base
	leave.Status = conference.EventParticipantLeave
	leave.CallSID = "CA100"
	if _, err := r.Reconcile(ctx, leave); err != nil {
		t.Fatalf("leave: %v", err)
	}
	confs, _ = mem.ListActiveConferences(ctx, "ws1")
	if confs[0].Participants[0].LeftAt == nil {
		t.Fatal("left_at not set on participant leave")
	}

	end := base
	end.Status = conference.EventEnd
	if _, err := r.Reconcile(ctx, end); err != nil {
		t.Fatalf("end: %v", err)
	}
	confs, _ = mem.ListActiveConferences(ctx, "ws1")
	if len(confs) != 0 {
		t.Fatalf("completed conference still listed active: %+v", confs)
	}
}

func TestReconcileUnknownConferenceEventRecordsOnly(t *testing.T) {
	mem := store.NewMemory()
	r := New(mem, testLogger())
	ctx := context.Background()

	ev := Event{
		Provider:    "twilio",
		Category:    CategoryConference,
		ProviderID:  "CF200",
		Status:      "speaker-change",
		WorkspaceID: "ws1",
	}
	out, err := r.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.Duplicate {
		t.Fatal("first delivery reported duplicate")
	}

	confs, _ := mem.ListActiveConferences(ctx, "ws1")
	if len(confs) != 0 {
		t.Fatal("unknown event created entity state")
	}
	if n, _ := mem.CountEvents(ctx, ev.Key()); n != 1 {
		t.Fatal("unknown event not recorded in ledger")
	}
}
