// Package reconcile folds provider webhook deliveries into local entity state.
//
// The unit of work is one event: dedupe check, entity upsert, audit append and
// dedupe-ledger insert all commit in a single transaction. Deliveries are
// at-least-once and unordered; the ledger's unique event key makes applying
// them exactly-once, and entity state is last-write-wins over that key space.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Event categories. The category names the provider surface the event came
// from and selects the entity family it reconciles into.
const (
	CategoryVoice      = "voice"
	CategorySms        = "sms"
	CategoryConference = "conference"
)

// Event is a provider webhook delivery after transport parsing, before any
// state has been touched. Raw carries the original payload verbatim for the
// ledger and audit trail.
type Event struct {
	Provider string
	Category string

	// ProviderID is the provider's entity identifier: CallSid, MessageSid or
	// ConferenceSid depending on Category.
	ProviderID string

	// Status is the provider-reported status, or the callback event name for
	// conference events.
	Status string

	WorkspaceID string

	// Voice and SMS create-time fields, used only when the entity is first
	// synthesized from an inbound event.
	From string
	To   string
	Body string

	// Conference fields.
	FriendlyName   string
	CallSID        string
	ParticipantSID string
	Muted          bool
	Hold           bool

	Raw string
}

// Key returns the dedupe identity of the event. Two deliveries with the same
// key are the same event regardless of payload differences.
func (e Event) Key() string {
	return EventKey(e.Provider, e.Category, e.ProviderID, e.Status)
}

// EventKey builds the ledger key. The tuple is ordered from coarse to fine so
// keys sort usefully, and uses a separator that cannot appear in provider SIDs.
func EventKey(provider, category, providerID, status string) string {
	return strings.Join([]string{provider, category, providerID, status}, ":")
}

// PayloadHash is the content hash stored on the ledger row, for detecting
// payload drift between re-deliveries of the same key.
func PayloadHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
