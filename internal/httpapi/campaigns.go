package httpapi

import (
	"errors"
	"net/http"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/auth"
	"telecom-control-plane/internal/campaigns"
	"telecom-control-plane/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Campaign endpoints feed the queue the campaign worker drains. A campaign is
// created as draft, loaded with items, then activated; only active campaigns
// are dialed.

type createCampaignRequest struct {
	Name string `json:"name"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	now := time.Now().UTC()
	camp := campaigns.Campaign{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Name:        req.Name,
		Status:      campaigns.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.CreateCampaign(c.Request.Context(), camp); err != nil {
		h.Log.Error("create campaign", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign creation failed"})
		return
	}
	c.JSON(http.StatusCreated, camp)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	list, err := h.Store.ListCampaigns(c.Request.Context(), ws.ID)
	if err != nil {
		h.Log.Error("list campaigns", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

type addItemsRequest struct {
	To []string `json:"to"`
}

// AddCampaignItems appends dial targets to a campaign. Every number must be
// E.164; a single bad entry rejects the whole batch.
func (h Handlers) AddCampaignItems(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	camp, err := h.Store.GetCampaign(c.Request.Context(), ws.ID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		h.Log.Error("get campaign", "campaign_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	var req addItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.To) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to required"})
		return
	}
	for _, to := range req.To {
		if !actions.ValidE164(to) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be E.164, got " + to})
			return
		}
	}

	now := time.Now().UTC()
	items := make([]campaigns.Item, 0, len(req.To))
	for i, to := range req.To {
		items = append(items, campaigns.Item{
			ID:          uuid.NewString(),
			CampaignID:  camp.ID,
			WorkspaceID: ws.ID,
			To:          to,
			Status:      campaigns.ItemPending,
			// Stagger creation times so the worker drains the batch in order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
	}
	if err := h.Store.AddCampaignItems(c.Request.Context(), items); err != nil {
		h.Log.Error("add campaign items", "campaign_id", camp.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "add items failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": len(items)})
}

type campaignStatusRequest struct {
	Status string `json:"status"`
}

// SetCampaignStatus activates, pauses or completes a campaign.
func (h Handlers) SetCampaignStatus(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var req campaignStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status, err := campaigns.ParseStatus(req.Status)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	camp, err := h.Store.UpdateCampaignStatus(c.Request.Context(), ws.ID, c.Param("id"), status, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		h.Log.Error("update campaign status", "campaign_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.JSON(http.StatusOK, camp)
}
