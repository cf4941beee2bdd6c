// Package agent tracks operator/agent presence in Redis. Presence is
// ephemeral by nature, so it lives entirely in Redis with TTLs and never
// touches Postgres.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// onlineWindow is how recently an agent must have heartbeat to count as
	// online. The key TTL is longer so a briefly late heartbeat reads as away
	// rather than unknown.
	onlineWindow = 60 * time.Second
	keyTTL       = 90 * time.Second
)

type State string

const (
	StateOnline  State = "online"
	StateAway    State = "away"
	StateOffline State = "offline"
)

// Record is what a heartbeat stores.
type Record struct {
	AgentID     string    `json:"agent_id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// Status is a presence read.
type Status struct {
	Record
	State State `json:"state"`
}

type Presence struct {
	rdb   *redis.Client
	clock func() time.Time
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{
		rdb:   rdb,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (p *Presence) WithClock(clock func() time.Time) *Presence {
	p.clock = clock
	return p
}

func presenceKey(workspaceID, agentID string) string {
	return "presence:" + workspaceID + ":" + agentID
}

// Heartbeat records the agent as alive now.
func (p *Presence) Heartbeat(ctx context.Context, workspaceID, agentID, name string) error {
	rec := Record{
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		Name:        name,
		LastSeen:    p.clock(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("agent: marshal presence: %w", err)
	}
	if err := p.rdb.Set(ctx, presenceKey(workspaceID, agentID), b, keyTTL).Err(); err != nil {
		return fmt.Errorf("agent: store presence: %w", err)
	}
	return nil
}

// Get reads one agent's presence. A missing or expired key is offline, not an
// error.
func (p *Presence) Get(ctx context.Context, workspaceID, agentID string) (Status, error) {
	raw, err := p.rdb.Get(ctx, presenceKey(workspaceID, agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{
			Record: Record{AgentID: agentID, WorkspaceID: workspaceID},
			State:  StateOffline,
		}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("agent: read presence: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Status{}, fmt.Errorf("agent: decode presence: %w", err)
	}

	state := StateAway
	if p.clock().Sub(rec.LastSeen) <= onlineWindow {
		state = StateOnline
	}
	return Status{Record: rec, State: state}, nil
}
