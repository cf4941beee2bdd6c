package workspace

import "time"

// Workspace is the tenant boundary. Every other entity is owned by exactly one
// workspace, and every query against persisted state must be workspace-scoped.
//
// Invariants:
// - Created once at provisioning; never deleted in-flow.
// - APIToken is the machine-actor credential (X-Workspace-Token header).
// - Policies are mutated only through the policy endpoints.

type Workspace struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// APIToken authenticates machine actors. Treat as a secret; never log it.
	APIToken string `json:"-" db:"api_token"`

	Policies Policies       `json:"policies" db:"policies"`
	Provider ProviderConfig `json:"-" db:"provider_config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Policies is the per-workspace policy configuration evaluated before any
// provider-facing action is issued.
type Policies struct {
	// RequireApproval lists action kinds (e.g. "call.dial") that are held for a
	// human decision unconditionally.
	RequireApproval []string `json:"require_approval"`

	// MaxConcurrentCalls caps simultaneous non-terminal call legs. A value <= 0
	// falls back to 1 (most restrictive), so a misconfigured workspace fails safe.
	MaxConcurrentCalls int `json:"max_concurrent_calls"`

	AllowedRegions []string `json:"allowed_regions,omitempty"`
}

// RequiresApproval reports whether the action kind is in the explicit list.
func (p Policies) RequiresApproval(actionKind string) bool {
	for _, k := range p.RequireApproval {
		if k == actionKind {
			return true
		}
	}
	return false
}

// CallCeiling returns the effective concurrency ceiling.
func (p Policies) CallCeiling() int {
	if p.MaxConcurrentCalls <= 0 {
		return 1
	}
	return p.MaxConcurrentCalls
}

// ProviderConfig holds workspace-scoped provider credentials. The orchestrator
// resolves a provider client from this per call; there is no global client.
type ProviderConfig struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"`
}

// Configured reports whether outbound actions can be attempted at all.
func (pc ProviderConfig) Configured() bool {
	return pc.AccountSID != "" && pc.AuthToken != "" && pc.FromNumber != ""
}

// DefaultPolicies is the zero-friction provisioning posture: nothing requires
// approval until an operator opts in.
func DefaultPolicies() Policies {
	return Policies{
		RequireApproval:    []string{},
		MaxConcurrentCalls: 10,
		AllowedRegions:     []string{"US", "CA", "GB", "ES"},
	}
}
