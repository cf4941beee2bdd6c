// Package orchestrator executes authorized actions against the provider.
//
// Every action follows the same two-phase shape: create the local row first,
// then make the provider call, then attach the provider id or mark the row
// failed. The local row is never created inside a transaction held across
// provider I/O, and a provider failure leaves a failed row behind on purpose:
// the attempt is part of the record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"
	"telecom-control-plane/internal/workspace"

	"github.com/google/uuid"
)

// ErrProviderNotConfigured means the workspace has no usable provider
// credentials; no local row is created in that case.
var ErrProviderNotConfigured = errors.New("orchestrator: provider not configured for workspace")

// ClientResolver builds a provider client from workspace credentials.
type ClientResolver func(ws workspace.Workspace) telephony.Client

// TwilioResolver is the production resolver.
func TwilioResolver(ws workspace.Workspace) telephony.Client {
	return telephony.NewTwilio(ws.Provider.AccountSID, ws.Provider.AuthToken)
}

type Orchestrator struct {
	store   store.Store
	resolve ClientResolver
	log     *slog.Logger

	publicBaseURL string
	clock         func() time.Time
}

func New(st store.Store, resolve ClientResolver, publicBaseURL string, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:         st,
		resolve:       resolve,
		log:           log,
		publicBaseURL: publicBaseURL,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Dial places an outbound call.
func (o *Orchestrator) Dial(ctx context.Context, ws workspace.Workspace, p actions.DialParams) (calls.CallLeg, error) {
	if !ws.Provider.Configured() {
		return calls.CallLeg{}, ErrProviderNotConfigured
	}
	from := p.From
	if from == "" {
		from = ws.Provider.FromNumber
	}

	now := o.clock()
	leg := calls.CallLeg{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Direction:   calls.DirectionOutboundAPI,
		From:        from,
		To:          p.To,
		State:       calls.StateInitiated,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateCallLeg(ctx, leg); err != nil {
		return calls.CallLeg{}, fmt.Errorf("orchestrator: create call leg: %w", err)
	}

	twimlURL := o.publicBaseURL + "/twiml/outbound"
	if p.IntroMessage != "" {
		twimlURL += "?intro=" + url.QueryEscape(p.IntroMessage)
	}

	res, err := o.resolve(ws).PlaceCall(ctx, telephony.CallParams{
		From:              from,
		To:                p.To,
		TwiMLURL:          twimlURL,
		StatusCallbackURL: o.publicBaseURL + "/webhooks/twilio/voice",
		Record:            p.Record,
	})
	if err != nil {
		if markErr := o.store.MarkCallFailed(ctx, leg.ID, err.Error()); markErr != nil {
			o.log.Error("mark call failed after provider rejection", "call_id", leg.ID, "err", markErr)
		}
		return calls.CallLeg{}, fmt.Errorf("orchestrator: place call: %w", err)
	}

	if err := o.store.AttachCallProviderID(ctx, leg.ID, res.CallSID); err != nil {
		// The provider accepted but the local attach failed; the webhook
		// reconciler will still track the call by its SID.
		o.log.Error("attach call provider id", "call_id", leg.ID, "call_sid", res.CallSID, "err", err)
	}
	leg.ProviderCallID = res.CallSID
	return leg, nil
}

// SendSms sends an outbound message.
func (o *Orchestrator) SendSms(ctx context.Context, ws workspace.Workspace, p actions.SmsParams) (sms.Message, error) {
	if !ws.Provider.Configured() {
		return sms.Message{}, ErrProviderNotConfigured
	}
	from := p.From
	if from == "" {
		from = ws.Provider.FromNumber
	}

	now := o.clock()
	msg := sms.Message{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Direction:   sms.DirectionOutbound,
		Status:      sms.StatusQueued,
		From:        from,
		To:          p.To,
		Body:        p.Body,
		BodyHash:    sms.HashBody(p.Body),
		SentAt:      now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateSmsMessage(ctx, msg); err != nil {
		return sms.Message{}, fmt.Errorf("orchestrator: create sms message: %w", err)
	}

	res, err := o.resolve(ws).SendMessage(ctx, telephony.MessageParams{
		From:              from,
		To:                p.To,
		Body:              p.Body,
		StatusCallbackURL: o.publicBaseURL + "/webhooks/twilio/sms",
	})
	if err != nil {
		if markErr := o.store.MarkSmsFailed(ctx, msg.ID, err.Error()); markErr != nil {
			o.log.Error("mark sms failed after provider rejection", "message_id", msg.ID, "err", markErr)
		}
		return sms.Message{}, fmt.Errorf("orchestrator: send message: %w", err)
	}

	status, _ := sms.MapProviderStatus(res.Status)
	if err := o.store.AttachSmsProviderID(ctx, msg.ID, res.MessageSID, status); err != nil {
		o.log.Error("attach sms provider id", "message_id", msg.ID, "message_sid", res.MessageSID, "err", err)
	}
	msg.ProviderMessageID = res.MessageSID
	msg.Status = status
	return msg, nil
}

// Merge pulls two in-flight calls into a fresh conference by redirecting both
// legs at conference TwiML. The redirects run concurrently and there is no
// rollback: if one leg redirects and the other fails, the merged leg stays in
// the conference and the error is surfaced. Undoing a half-merge would mean
// redirecting a live call a second time, which is worse than reporting it.
func (o *Orchestrator) Merge(ctx context.Context, ws workspace.Workspace, p actions.MergeParams) (conference.Conference, error) {
	if !ws.Provider.Configured() {
		return conference.Conference{}, ErrProviderNotConfigured
	}

	name := p.FriendlyName
	if name == "" {
		name = "merge-" + uuid.NewString()[:8]
	}

	now := o.clock()
	conf := conference.Conference{
		ID:           uuid.NewString(),
		WorkspaceID:  ws.ID,
		FriendlyName: name,
		State:        conference.StateCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateConference(ctx, conf); err != nil {
		return conference.Conference{}, fmt.Errorf("orchestrator: create conference: %w", err)
	}

	twimlURL := o.publicBaseURL + "/twiml/conference/" + url.PathEscape(name)
	client := o.resolve(ws)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, sid := range []string{p.CallSIDA, p.CallSIDB} {
		wg.Add(1)
		go func(i int, sid string) {
			defer wg.Done()
			if err := client.RedirectCall(ctx, sid, twimlURL); err != nil {
				errs[i] = fmt.Errorf("redirect %s: %w", sid, err)
			}
		}(i, sid)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return conf, fmt.Errorf("orchestrator: merge %s: %w", name, err)
	}
	return conf, nil
}

// Hangup terminates a call at the provider and optimistically marks the local
// leg completed. The status webhook remains authoritative; if it never
// arrives the optimistic mark is all we have.
func (o *Orchestrator) Hangup(ctx context.Context, ws workspace.Workspace, p actions.HangupParams) error {
	if !ws.Provider.Configured() {
		return ErrProviderNotConfigured
	}

	if err := o.resolve(ws).TerminateCall(ctx, p.CallSID); err != nil {
		return fmt.Errorf("orchestrator: terminate call: %w", err)
	}

	if err := o.store.CompleteCall(ctx, ws.ID, p.CallSID, o.clock()); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.log.Error("optimistic complete after hangup", "call_sid", p.CallSID, "err", err)
	}
	return nil
}
