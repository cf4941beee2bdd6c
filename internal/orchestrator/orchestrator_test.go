package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"
	"telecom-control-plane/internal/workspace"
)

type fakeClient struct {
	mu sync.Mutex

	placeCall   func(telephony.CallParams) (telephony.CallResult, error)
	sendMessage func(telephony.MessageParams) (telephony.MessageResult, error)
	redirect    func(callSID, twimlURL string) error
	terminate   func(callSID string) error

	placed     []telephony.CallParams
	sent       []telephony.MessageParams
	redirected []string
	terminated []string
}

func (f *fakeClient) PlaceCall(_ context.Context, p telephony.CallParams) (telephony.CallResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, p)
	f.mu.Unlock()
	if f.placeCall != nil {
		return f.placeCall(p)
	}
	return telephony.CallResult{CallSID: "CA-new", Status: "queued"}, nil
}

func (f *fakeClient) SendMessage(_ context.Context, p telephony.MessageParams) (telephony.MessageResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, p)
	f.mu.Unlock()
	if f.sendMessage != nil {
		return f.sendMessage(p)
	}
	return telephony.MessageResult{MessageSID: "SM-new", Status: "queued"}, nil
}

func (f *fakeClient) RedirectCall(_ context.Context, callSID, twimlURL string) error {
	f.mu.Lock()
	f.redirected = append(f.redirected, callSID)
	f.mu.Unlock()
	if f.redirect != nil {
		return f.redirect(callSID, twimlURL)
	}
	return nil
}

func (f *fakeClient) TerminateCall(_ context.Context, callSID string) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, callSID)
	f.mu.Unlock()
	if f.terminate != nil {
		return f.terminate(callSID)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func configuredWorkspace() workspace.Workspace {
	return workspace.Workspace{
		ID:       "ws1",
		Name:     "acme",
		Policies: workspace.DefaultPolicies(),
		Provider: workspace.ProviderConfig{
			AccountSID: "AC1",
			AuthToken:  "tok",
			FromNumber: "+15550009999",
		},
	}
}

func newOrchestrator(mem *store.Memory, client telephony.Client) *Orchestrator {
	resolve := func(workspace.Workspace) telephony.Client { return client }
	return New(mem, resolve, "https://cp.example.com", testLogger())
}

func TestDialSuccess(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	o := newOrchestrator(mem, fc)

	leg, err := o.Dial(context.Background(), configuredWorkspace(), actions.DialParams{
		To:           "+15550002222",
		IntroMessage: "hello world",
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if leg.ProviderCallID != "CA-new" {
		t.Fatalf("provider id = %q", leg.ProviderCallID)
	}
	if leg.From != "+15550009999" {
		t.Fatalf("from did not fall back to workspace number: %q", leg.From)
	}

	stored, err := mem.GetCallByProviderID(context.Background(), "ws1", "CA-new")
	if err != nil {
		t.Fatalf("stored leg: %v", err)
	}
	if stored.State != calls.StateInitiated || stored.Direction != calls.DirectionOutboundAPI {
		t.Fatalf("stored = %+v", stored)
	}

	if len(fc.placed) != 1 {
		t.Fatalf("provider calls = %d", len(fc.placed))
	}
	p := fc.placed[0]
	if !strings.Contains(p.TwiMLURL, "/twiml/outbound") || !strings.Contains(p.TwiMLURL, "intro=hello+world") {
		t.Fatalf("twiml url = %q", p.TwiMLURL)
	}
	if p.StatusCallbackURL != "https://cp.example.com/webhooks/twilio/voice" {
		t.Fatalf("status callback = %q", p.StatusCallbackURL)
	}
}

func TestDialProviderFailureMarksLegFailed(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{
		placeCall: func(telephony.CallParams) (telephony.CallResult, error) {
			return telephony.CallResult{}, &telephony.ProviderError{HTTPStatus: 400, Code: 21211, Message: "bad number"}
		},
	}
	o := newOrchestrator(mem, fc)

	_, err := o.Dial(context.Background(), configuredWorkspace(), actions.DialParams{To: "+15550002222"})
	if err == nil {
		t.Fatal("provider failure not surfaced")
	}
	var pe *telephony.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error chain lost provider error: %v", err)
	}

	legs, _ := mem.ListRecentCalls(context.Background(), "ws1", 10)
	if len(legs) != 1 {
		t.Fatalf("legs = %d, want the failed attempt kept", len(legs))
	}
	if legs[0].State != calls.StateFailed {
		t.Fatalf("state = %s, want failed", legs[0].State)
	}
	if !strings.Contains(legs[0].RawLastEvent, "bad number") {
		t.Fatalf("failure detail not recorded: %q", legs[0].RawLastEvent)
	}
}

func TestDialUnconfiguredWorkspace(t *testing.T) {
	mem := store.NewMemory()
	o := newOrchestrator(mem, &fakeClient{})

	ws := configuredWorkspace()
	ws.Provider = workspace.ProviderConfig{}

	_, err := o.Dial(context.Background(), ws, actions.DialParams{To: "+15550002222"})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("err = %v", err)
	}
	legs, _ := mem.ListRecentCalls(context.Background(), "ws1", 10)
	if len(legs) != 0 {
		t.Fatal("leg created despite unconfigured provider")
	}
}

func TestSendSmsSuccess(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	o := newOrchestrator(mem, fc)

	msg, err := o.SendSms(context.Background(), configuredWorkspace(), actions.SmsParams{
		To:   "+15550002222",
		Body: "ship it",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ProviderMessageID != "SM-new" {
		t.Fatalf("provider id = %q", msg.ProviderMessageID)
	}
	if msg.BodyHash != sms.HashBody("ship it") {
		t.Fatal("body hash not set")
	}

	msgs, _ := mem.ListRecentSms(context.Background(), "ws1", 10)
	if len(msgs) != 1 || msgs[0].Direction != sms.DirectionOutbound {
		t.Fatalf("stored = %+v", msgs)
	}
}

func TestSendSmsProviderFailure(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{
		sendMessage: func(telephony.MessageParams) (telephony.MessageResult, error) {
			return telephony.MessageResult{}, errors.New("upstream down")
		},
	}
	o := newOrchestrator(mem, fc)

	_, err := o.SendSms(context.Background(), configuredWorkspace(), actions.SmsParams{To: "+15550002222", Body: "x"})
	if err == nil {
		t.Fatal("provider failure not surfaced")
	}
	msgs, _ := mem.ListRecentSms(context.Background(), "ws1", 10)
	if len(msgs) != 1 || msgs[0].Status != sms.StatusFailed {
		t.Fatalf("stored = %+v", msgs)
	}
	if msgs[0].ErrorMessage != "upstream down" {
		t.Fatalf("error detail = %q", msgs[0].ErrorMessage)
	}
}

func TestMergeRedirectsBothLegs(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	o := newOrchestrator(mem, fc)

	conf, err := o.Merge(context.Background(), configuredWorkspace(), actions.MergeParams{
		CallSIDA:     "CA1",
		CallSIDB:     "CA2",
		FriendlyName: "sales-sync",
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if conf.FriendlyName != "sales-sync" {
		t.Fatalf("name = %q", conf.FriendlyName)
	}
	if len(fc.redirected) != 2 {
		t.Fatalf("redirects = %v", fc.redirected)
	}

	confs, _ := mem.ListActiveConferences(context.Background(), "ws1")
	if len(confs) != 1 {
		t.Fatalf("conferences = %d", len(confs))
	}
}

func TestMergePartialFailureKeepsConferenceAndReportsError(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{
		redirect: func(callSID, _ string) error {
			if callSID == "CA2" {
				return errors.New("leg gone")
			}
			return nil
		},
	}
	o := newOrchestrator(mem, fc)

	_, err := o.Merge(context.Background(), configuredWorkspace(), actions.MergeParams{
		CallSIDA: "CA1",
		CallSIDB: "CA2",
	})
	if err == nil {
		t.Fatal("partial failure not surfaced")
	}
	if !strings.Contains(err.Error(), "CA2") {
		t.Fatalf("error does not name the failed leg: %v", err)
	}
	if len(fc.redirected) != 2 {
		t.Fatalf("redirects = %v, want both attempted", fc.redirected)
	}

	// No rollback: the conference row survives the half-merge.
	confs, _ := mem.ListActiveConferences(context.Background(), "ws1")
	if len(confs) != 1 {
		t.Fatalf("conferences = %d, want 1", len(confs))
	}
}

func TestHangupOptimisticComplete(t *testing.T) {
	mem := store.NewMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClient{}
	o := newOrchestrator(mem, fc).WithClock(func() time.Time { return now })

	_ = mem.CreateCallLeg(context.Background(), calls.CallLeg{
		ID:             "leg1",
		WorkspaceID:    "ws1",
		ProviderCallID: "CA1",
		State:          calls.StateInProgress,
	})

	if err := o.Hangup(context.Background(), configuredWorkspace(), actions.HangupParams{CallSID: "CA1"}); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if len(fc.terminated) != 1 || fc.terminated[0] != "CA1" {
		t.Fatalf("terminated = %v", fc.terminated)
	}

	leg, _ := mem.GetCallByProviderID(context.Background(), "ws1", "CA1")
	if leg.State != calls.StateCompleted || leg.EndedAt == nil || !leg.EndedAt.Equal(now) {
		t.Fatalf("leg = %+v", leg)
	}
}

func TestHangupUnknownLegStillSucceeds(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	o := newOrchestrator(mem, fc)

	if err := o.Hangup(context.Background(), configuredWorkspace(), actions.HangupParams{CallSID: "CA404"}); err != nil {
		t.Fatalf("hangup of untracked call: %v", err)
	}
}
