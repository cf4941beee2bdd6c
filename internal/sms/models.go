package sms

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Message is one inbound or outbound SMS, workspace-scoped.
//
// Invariants mirror calls.CallLeg:
// - ProviderMessageID is set at most once after creation.
// - Created by the orchestrator (outbound) or synthesized by the reconciler
//   (inbound, first-seen).

type Message struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// ProviderMessageID is the provider's identifier (e.g. Twilio MessageSid).
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Body string `json:"body" db:"body"`
	// BodyHash is a sha256 content hash used for dedupe/audit, not secrecy.
	BodyHash string `json:"body_hash" db:"body_hash"`

	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`
	RawLastEvent string `json:"raw_last_event,omitempty" db:"raw_last_event"`

	SentAt      time.Time  `json:"sent_at" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusSending     Status = "sending"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusUndelivered Status = "undelivered"
	StatusFailed      Status = "failed"
	StatusReceived    Status = "received"
)

// Terminal reports whether the message can no longer change at the provider.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusUndelivered, StatusFailed, StatusReceived:
		return true
	default:
		return false
	}
}

// MapProviderStatus folds a provider-reported message status into the local
// vocabulary. Unrecognized statuses map to queued; callers should log them.
func MapProviderStatus(reported string) (Status, bool) {
	switch reported {
	case "queued", "accepted":
		return StatusQueued, true
	case "sending":
		return StatusSending, true
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "undelivered":
		return StatusUndelivered, true
	case "failed":
		return StatusFailed, true
	case "received":
		return StatusReceived, true
	default:
		return StatusQueued, false
	}
}

// HashBody computes the content hash stored alongside message bodies.
func HashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
