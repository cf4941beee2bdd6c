package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
	"telecom-control-plane/internal/store"

	"github.com/google/uuid"
)

// Reconciler applies webhook events to entity state.
type Reconciler struct {
	store store.Store
	log   *slog.Logger
	clock func() time.Time
}

func New(st store.Store, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store: st,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source; tests use it for deterministic rows.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Outcome reports what a Reconcile call did.
type Outcome struct {
	EventKey  string
	Duplicate bool
}

var errDuplicateSeen = errors.New("reconcile: event already applied")

// Reconcile folds one event into entity state, exactly once per event key.
//
// Inside a single transaction it checks the dedupe ledger, upserts the target
// entity, appends the audit record and inserts the ledger row. The ledger
// insert goes last: its unique constraint is what decides a race between two
// concurrent deliveries of the same key, and the loser's entity writes roll
// back with it.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	out := Outcome{EventKey: ev.Key()}
	now := r.clock()

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seen, err := tx.SeenEvent(ctx, out.EventKey)
		if err != nil {
			return err
		}
		if seen {
			return errDuplicateSeen
		}

		action, entityType, err := r.applyEntity(ctx, tx, ev, now)
		if err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, audit.Event{
			ID:          uuid.NewString(),
			WorkspaceID: ev.WorkspaceID,
			ActorSource: audit.ActorSystem,
			ActorLabel:  "Provider Webhook",
			Action:      action,
			EntityType:  entityType,
			EntityID:    ev.ProviderID,
			OK:          true,
			Data:        ev.Raw,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		return tx.InsertEvent(ctx, store.WebhookEvent{
			ID:          uuid.NewString(),
			WorkspaceID: ev.WorkspaceID,
			Provider:    ev.Provider,
			Category:    ev.Category,
			EventKey:    out.EventKey,
			ProviderID:  ev.ProviderID,
			Status:      ev.Status,
			PayloadHash: PayloadHash(ev.Raw),
			Payload:     ev.Raw,
			CreatedAt:   now,
		})
	})

	switch {
	case errors.Is(err, errDuplicateSeen), errors.Is(err, store.ErrDuplicateEvent):
		out.Duplicate = true
		r.log.Debug("duplicate webhook event ignored", "event_key", out.EventKey)
		return out, nil
	case err != nil:
		return out, fmt.Errorf("reconcile %s: %w", out.EventKey, err)
	}
	return out, nil
}

// applyEntity dispatches on category and returns the audit action name and
// entity type for the record written alongside.
func (r *Reconciler) applyEntity(ctx context.Context, tx store.Tx, ev Event, now time.Time) (string, string, error) {
	switch ev.Category {
	case CategoryVoice:
		state, known := calls.MapProviderStatus(ev.Status)
		if !known {
			r.log.Warn("unrecognized call status, defaulting",
				"status", ev.Status, "call_sid", ev.ProviderID, "mapped", state)
		}
		// Create-time fields only take effect when the leg is synthesized,
		// and a leg the orchestrator never created is inbound.
		err := tx.UpsertCallByProviderID(ctx, store.CallUpsert{
			WorkspaceID:    ev.WorkspaceID,
			ProviderCallID: ev.ProviderID,
			State:          state,
			Direction:      calls.DirectionInbound,
			From:           ev.From,
			To:             ev.To,
			RawEvent:       ev.Raw,
			Ended:          state.Terminal(),
			Now:            now,
		})
		return "call.status." + string(state), "call", err

	case CategorySms:
		status, known := sms.MapProviderStatus(ev.Status)
		if !known {
			r.log.Warn("unrecognized sms status, defaulting",
				"status", ev.Status, "message_sid", ev.ProviderID, "mapped", status)
		}
		err := tx.UpsertSmsByProviderID(ctx, store.SmsUpsert{
			WorkspaceID:       ev.WorkspaceID,
			ProviderMessageID: ev.ProviderID,
			Status:            status,
			Direction:         sms.DirectionInbound,
			From:              ev.From,
			To:                ev.To,
			Body:              ev.Body,
			BodyHash:          sms.HashBody(ev.Body),
			RawEvent:          ev.Raw,
			Now:               now,
		})
		return "sms.status." + string(status), "sms", err

	case CategoryConference:
		action, err := r.applyConference(ctx, tx, ev, now)
		return action, "conference", err

	default:
		// Unknown categories still land in the ledger so a re-delivery is a
		// recorded duplicate, but nothing else moves.
		r.log.Warn("unknown event category, recording only", "category", ev.Category)
		return "webhook." + ev.Category, ev.Category, nil
	}
}

func (r *Reconciler) applyConference(ctx context.Context, tx store.Tx, ev Event, now time.Time) (string, error) {
	switch ev.Status {
	case conference.EventStart:
		_, err := tx.UpsertConferenceByProviderID(ctx, store.ConferenceUpsert{
			WorkspaceID:          ev.WorkspaceID,
			ProviderConferenceID: ev.ProviderID,
			FriendlyName:         ev.FriendlyName,
			State:                conference.StateInProgress,
			SetState:             true,
			Now:                  now,
		})
		return "conference.start", err

	case conference.EventEnd:
		if _, err := tx.UpsertConferenceByProviderID(ctx, store.ConferenceUpsert{
			WorkspaceID:          ev.WorkspaceID,
			ProviderConferenceID: ev.ProviderID,
			FriendlyName:         ev.FriendlyName,
			State:                conference.StateCreated,
			Now:                  now,
		}); err != nil {
			return "conference.end", err
		}
		return "conference.end", tx.EndConferenceByProviderID(ctx, ev.ProviderID, now)

	case conference.EventParticipantJoin:
		// The parent conference is upserted first: join can arrive before start.
		confID, err := tx.UpsertConferenceByProviderID(ctx, store.ConferenceUpsert{
			WorkspaceID:          ev.WorkspaceID,
			ProviderConferenceID: ev.ProviderID,
			FriendlyName:         ev.FriendlyName,
			State:                conference.StateCreated,
			Now:                  now,
		})
		if err != nil {
			return "conference.participant.join", err
		}
		return "conference.participant.join", tx.AddParticipant(ctx, conference.Participant{
			ID:             uuid.NewString(),
			ConferenceID:   confID,
			CallSID:        ev.CallSID,
			ParticipantSID: ev.ParticipantSID,
			Muted:          ev.Muted,
			OnHold:         ev.Hold,
			JoinedAt:       now,
		})

	case conference.EventParticipantLeave:
		return "conference.participant.leave",
			tx.MarkParticipantLeft(ctx, ev.ProviderID, ev.CallSID, now)

	default:
		r.log.Warn("unknown conference event, recording only",
			"event", ev.Status, "conference_sid", ev.ProviderID)
		return "conference." + ev.Status, nil
	}
}
