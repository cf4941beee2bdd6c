package campaigns

import (
	"fmt"
	"time"
)

// Campaign is a bulk outbound calling campaign. Dispatch is a simple
// rate-limited queue drainer, deliberately not part of the reconciliation core.

type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ParseStatus validates an API-supplied status transition target. Draft is the
// create-time status only and cannot be set through the API.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("campaigns: unknown campaign status %q", v)
	}
}

// Item is one dial target within a campaign. Items move pending -> initiated
// on successful dispatch or pending -> failed with the error recorded; failed
// items are not retried automatically.

type Item struct {
	ID          string `json:"id" db:"id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	To     string     `json:"to" db:"to_number"`
	Status ItemStatus `json:"status" db:"status"`

	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	Error          string `json:"error,omitempty" db:"error"`
	Attempts       int    `json:"attempts" db:"attempts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemInitiated ItemStatus = "initiated"
	ItemFailed    ItemStatus = "failed"
)
