package orchestrator

import (
	"context"
	"testing"
	"time"

	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/workspace"
)

func testWorker(mem *store.Memory, fc *fakeClient) *CampaignWorker {
	w := NewCampaignWorker(mem, newOrchestrator(mem, fc), nil, time.Second, 2, testLogger())
	w.acquire = func(context.Context, string) (bool, error) { return true, nil }
	w.release = func(context.Context, string) error { return nil }
	return w
}

func seedWorker(t *testing.T, mem *store.Memory, ws workspace.Workspace, items ...campaigns.Item) {
	t.Helper()
	ctx := context.Background()
	if err := mem.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	if err := mem.CreateCampaign(ctx, campaigns.Campaign{
		ID:          "camp1",
		WorkspaceID: ws.ID,
		Name:        "spring outreach",
		Status:      campaigns.StatusActive,
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	if err := mem.AddCampaignItems(ctx, items); err != nil {
		t.Fatalf("seed campaign items: %v", err)
	}
}

func TestCampaignTickDialsOldestPending(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	w := testWorker(mem, fc)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedWorker(t, mem, configuredWorkspace(),
		campaigns.Item{ID: "i2", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550002222", Status: campaigns.ItemPending, CreatedAt: base.Add(time.Minute)},
		campaigns.Item{ID: "i1", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550001111", Status: campaigns.ItemPending, CreatedAt: base},
	)

	w.Tick(context.Background())

	if len(fc.placed) != 1 {
		t.Fatalf("dials = %d, want 1 per tick", len(fc.placed))
	}
	if fc.placed[0].To != "+15550001111" {
		t.Fatalf("dialed %s, want the oldest item first", fc.placed[0].To)
	}

	item, ok, _ := mem.NextPendingCampaignItem(context.Background())
	if !ok || item.ID != "i2" {
		t.Fatalf("next pending = %+v ok=%v, want i2 still queued", item, ok)
	}
}

func TestCampaignTickMarksInitiated(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	w := testWorker(mem, fc)
	seedWorker(t, mem, configuredWorkspace(),
		campaigns.Item{ID: "i1", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550001111", Status: campaigns.ItemPending})

	w.Tick(context.Background())

	if _, ok, _ := mem.NextPendingCampaignItem(context.Background()); ok {
		t.Fatal("item still pending after successful dial")
	}
}

func TestCampaignTickFailsItemWhenUnconfigured(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	w := testWorker(mem, fc)

	ws := configuredWorkspace()
	ws.Provider = workspace.ProviderConfig{}
	seedWorker(t, mem, ws,
		campaigns.Item{ID: "i1", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550001111", Status: campaigns.ItemPending})

	w.Tick(context.Background())

	if len(fc.placed) != 0 {
		t.Fatal("dialed without provider credentials")
	}
	if _, ok, _ := mem.NextPendingCampaignItem(context.Background()); ok {
		t.Fatal("item left pending; unconfigured workspace must fail it, not loop on it")
	}
}

func TestCampaignTickRespectsDialCap(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	w := testWorker(mem, fc)
	w.acquire = func(context.Context, string) (bool, error) { return false, nil }
	seedWorker(t, mem, configuredWorkspace(),
		campaigns.Item{ID: "i1", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550001111", Status: campaigns.ItemPending})

	w.Tick(context.Background())

	if len(fc.placed) != 0 {
		t.Fatal("dialed past the concurrency cap")
	}
	if _, ok, _ := mem.NextPendingCampaignItem(context.Background()); !ok {
		t.Fatal("capped item must stay pending for a later tick")
	}
}

func TestCampaignTickSkipsPausedCampaigns(t *testing.T) {
	mem := store.NewMemory()
	fc := &fakeClient{}
	w := testWorker(mem, fc)

	ctx := context.Background()
	if err := mem.CreateWorkspace(ctx, configuredWorkspace()); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	if err := mem.CreateCampaign(ctx, campaigns.Campaign{
		ID: "camp1", WorkspaceID: "ws1", Status: campaigns.StatusPaused,
	}); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	if err := mem.AddCampaignItems(ctx, []campaigns.Item{
		{ID: "i1", CampaignID: "camp1", WorkspaceID: "ws1", To: "+15550001111", Status: campaigns.ItemPending},
	}); err != nil {
		t.Fatalf("seed campaign items: %v", err)
	}

	w.Tick(context.Background())

	if len(fc.placed) != 0 {
		t.Fatal("dialed an item from a paused campaign")
	}
}
