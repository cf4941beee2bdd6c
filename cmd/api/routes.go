package main

import (
	"telecom-control-plane/internal/auth"
	"telecom-control-plane/internal/httpapi"
	"telecom-control-plane/internal/rbac"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, wh *telephony.WebhookHandlers, st store.Store, authManager *auth.Manager) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks and TwiML (public; the provider cannot send auth
	// headers). Signature validation happens inside the handlers.
	r.POST("/webhooks/twilio/voice", wh.VoiceStatus)
	r.POST("/webhooks/twilio/voice/inbound", wh.VoiceInbound)
	r.POST("/webhooks/twilio/sms", wh.SmsEvent)
	r.POST("/webhooks/twilio/conference", wh.ConferenceStatus)
	r.POST("/twiml/outbound", wh.TwimlOutbound)
	r.POST("/twiml/conference/:name", wh.TwimlConference)

	// Provisioning bootstraps a tenant; nothing to authenticate against yet.
	r.POST("/v1/workspaces", h.Provision)

	// Machine-actor surface, authenticated by workspace token.
	api := r.Group("/v1")
	api.Use(auth.RequireWorkspaceToken(st))
	{
		api.POST("/provider", h.SetupProvider)

		api.POST("/actions/call.dial", h.Dial)
		api.POST("/actions/sms.send", h.SendSms)
		api.POST("/actions/conference.merge", h.Merge)
		api.POST("/actions/call.hangup", h.Release)

		api.GET("/status", h.Status)
		api.GET("/activity", h.Activity)
		api.GET("/policies", h.GetPolicies)
		api.GET("/approvals", h.ListApprovals)

		api.POST("/campaigns", h.CreateCampaign)
		api.GET("/campaigns", h.ListCampaigns)
		api.POST("/campaigns/:id/items", h.AddCampaignItems)
		api.POST("/campaigns/:id/status", h.SetCampaignStatus)

		api.POST("/agents/:id/heartbeat", h.AgentHeartbeat)
		api.GET("/agents/:id/status", h.AgentStatus)

		// Operator JWTs are minted from the workspace credential.
		api.POST("/auth/token", h.MintToken)
	}

	// Operator surface, authenticated by JWT. Policy changes and approval
	// decisions need an accountable human identity, not a machine token.
	op := r.Group("/v1")
	op.Use(auth.RequireAccessToken(authManager))
	op.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleOperator)...)
	{
		op.PATCH("/policies", h.PatchPolicies)
		op.POST("/approvals/:id/decision", h.DecideApproval)
	}
}
