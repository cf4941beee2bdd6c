package reporting

import (
	"time"

	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/calls"
	"telecom-control-plane/internal/conference"
	"telecom-control-plane/internal/sms"
)

// Snapshot is the workspace status view: what is live right now plus queue
// depth. It is assembled from independent reads and is not a transaction-level
// consistent cut; the numbers can be milliseconds apart.
type Snapshot struct {
	WorkspaceID        string `json:"workspace_id"`
	ProviderConfigured bool   `json:"provider_configured"`

	ActiveCalls       []calls.CallLeg         `json:"active_calls"`
	ActiveConferences []conference.Conference `json:"active_conferences"`

	SmsTotal         int `json:"sms_total"`
	PendingApprovals int `json:"pending_approvals"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Activity is the recent-history view.
type Activity struct {
	WorkspaceID string `json:"workspace_id"`

	Calls    []calls.CallLeg `json:"calls"`
	Messages []sms.Message   `json:"messages"`
	Audit    []audit.Event   `json:"audit"`
}
