package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const campaignCapTTL = 60 * time.Second

// CampaignWorker drains pending campaign items into outbound dials at a fixed
// cadence. One item per tick keeps the dial rate predictable; the Redis
// concurrency cap bounds simultaneous campaign calls per workspace across
// process replicas.
type CampaignWorker struct {
	store store.Store
	orch  *Orchestrator
	log   *slog.Logger

	interval time.Duration

	acquire func(ctx context.Context, workspaceID string) (bool, error)
	release func(ctx context.Context, workspaceID string) error
}

func NewCampaignWorker(st store.Store, orch *Orchestrator, rdb *redis.Client, interval time.Duration, dialCap int, log *slog.Logger) *CampaignWorker {
	return &CampaignWorker{
		store:    st,
		orch:     orch,
		log:      log,
		interval: interval,
		acquire: func(ctx context.Context, workspaceID string) (bool, error) {
			return utils.AcquireConcurrencyCap(ctx, rdb, campaignCapKey(workspaceID), dialCap, campaignCapTTL)
		},
		release: func(ctx context.Context, workspaceID string) error {
			return utils.ReleaseConcurrencyCap(ctx, rdb, campaignCapKey(workspaceID))
		},
	}
}

func campaignCapKey(workspaceID string) string {
	return "campaign:dial:" + workspaceID
}

// Run loops until ctx is done.
func (w *CampaignWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("campaign worker started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("campaign worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes at most one pending item. Exported so tests drive the worker
// without the timer.
func (w *CampaignWorker) Tick(ctx context.Context) {
	item, ok, err := w.store.NextPendingCampaignItem(ctx)
	if err != nil {
		w.log.Error("next campaign item", "err", err)
		return
	}
	if !ok {
		return
	}

	ws, err := w.store.GetWorkspace(ctx, item.WorkspaceID)
	if err != nil {
		w.log.Error("campaign workspace lookup", "workspace_id", item.WorkspaceID, "err", err)
		w.failItem(ctx, item, "workspace not found")
		return
	}
	if !ws.Provider.Configured() {
		w.failItem(ctx, item, "provider not configured")
		return
	}

	acquired, err := w.acquire(ctx, ws.ID)
	if err != nil {
		w.log.Error("campaign dial cap acquire", "workspace_id", ws.ID, "err", err)
		return
	}
	if !acquired {
		// Leave the item pending; a later tick retries once a slot frees.
		w.log.Debug("campaign dial cap full", "workspace_id", ws.ID, "item_id", item.ID)
		return
	}
	defer func() {
		if err := w.release(ctx, ws.ID); err != nil {
			w.log.Error("campaign dial cap release", "workspace_id", ws.ID, "err", err)
		}
	}()

	item.Attempts++
	leg, err := w.orch.Dial(ctx, ws, actions.DialParams{To: item.To})
	now := time.Now().UTC()
	if err != nil {
		item.Status = campaigns.ItemFailed
		item.Error = err.Error()
		item.UpdatedAt = now
		w.log.Warn("campaign dial failed", "item_id", item.ID, "to", item.To, "err", err)
	} else {
		item.Status = campaigns.ItemInitiated
		item.ProviderCallID = leg.ProviderCallID
		item.UpdatedAt = now
	}

	if err := w.store.UpdateCampaignItem(ctx, item); err != nil {
		w.log.Error("update campaign item", "item_id", item.ID, "err", err)
	}
}

func (w *CampaignWorker) failItem(ctx context.Context, item campaigns.Item, reason string) {
	item.Status = campaigns.ItemFailed
	item.Error = reason
	item.Attempts++
	item.UpdatedAt = time.Now().UTC()
	if err := w.store.UpdateCampaignItem(ctx, item); err != nil {
		w.log.Error("fail campaign item", "item_id", item.ID, "err", err)
	}
}
