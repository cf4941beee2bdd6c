package telephony

import (
	"context"
	"net/http"

	"telecom-control-plane/internal/reconcile"
	"telecom-control-plane/internal/workspace"
	"telecom-control-plane/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WorkspaceSource resolves the tenant for a webhook delivery. Provider
// payloads carry nothing tenant-shaped, so intake falls back to the default
// workspace.
type WorkspaceSource interface {
	DefaultWorkspace(ctx context.Context) (workspace.Workspace, error)
}

// WebhookHandlers terminates provider callbacks. Every handler ACKs with 200
// even when reconciliation fails: a non-2xx makes the provider re-deliver,
// and re-delivery cannot fix a processing bug. Failures are logged and the
// dedupe ledger keeps the retry harmless.
type WebhookHandlers struct {
	Reconciler *reconcile.Reconciler
	Workspaces WorkspaceSource

	// PublicBaseURL is this service's externally reachable base, used when
	// TwiML embeds callback URLs.
	PublicBaseURL string
}

// VoiceStatus handles call lifecycle callbacks.
func (h *WebhookHandlers) VoiceStatus(c *gin.Context) {
	h.reconcileForm(c, ParseVoiceEvent)
	c.Status(http.StatusOK)
}

// VoiceInbound answers an incoming call: reconcile the ringing event, then
// return greeting TwiML.
func (h *WebhookHandlers) VoiceInbound(c *gin.Context) {
	log := logger.FromGin(c)
	h.reconcileForm(c, ParseVoiceEvent)

	twiml, err := InboundGreetingTwiML()
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// SmsEvent handles both inbound messages and outbound status callbacks.
func (h *WebhookHandlers) SmsEvent(c *gin.Context) {
	h.reconcileForm(c, ParseSmsEvent)
	c.Status(http.StatusOK)
}

// ConferenceStatus handles conference lifecycle and membership callbacks.
func (h *WebhookHandlers) ConferenceStatus(c *gin.Context) {
	h.reconcileForm(c, ParseConferenceEvent)
	c.Status(http.StatusOK)
}

func (h *WebhookHandlers) reconcileForm(c *gin.Context, parse func(*http.Request) (reconcile.Event, error)) {
	log := logger.FromGin(c)

	ev, err := parse(c.Request)
	if err != nil {
		log.Warn("webhook parse failed", "path", c.FullPath(), "err", err)
		return
	}

	ws, err := h.Workspaces.DefaultWorkspace(c.Request.Context())
	if err != nil {
		log.Error("webhook workspace resolution failed", "err", err)
		return
	}
	ev.WorkspaceID = ws.ID

	h.checkSignature(c, ws)

	out, err := h.Reconciler.Reconcile(c.Request.Context(), ev)
	if err != nil {
		log.Error("webhook reconcile failed", "event_key", ev.Key(), "err", err)
		return
	}
	if out.Duplicate {
		log.Debug("webhook duplicate", "event_key", out.EventKey)
	}
}

// checkSignature logs signature mismatches without rejecting. Deliveries
// behind URL-rewriting proxies fail validation spuriously, and the dedupe
// ledger plus workspace fallback bound what a forged delivery can do.
func (h *WebhookHandlers) checkSignature(c *gin.Context, ws workspace.Workspace) {
	sig := c.GetHeader("X-Twilio-Signature")
	if sig == "" || ws.Provider.AuthToken == "" {
		return
	}
	reqURL := h.PublicBaseURL + c.Request.URL.RequestURI()
	if !ValidSignature(ws.Provider.AuthToken, reqURL, c.Request.PostForm, sig) {
		logger.FromGin(c).Warn("webhook signature mismatch", "path", c.FullPath())
	}
}

// TwimlOutbound serves the TwiML an answered outbound call fetches.
func (h *WebhookHandlers) TwimlOutbound(c *gin.Context) {
	twiml, err := OutboundIntroTwiML(c.Query("intro"))
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// TwimlConference serves the TwiML that pulls a redirected leg into the named
// conference.
func (h *WebhookHandlers) TwimlConference(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.Status(http.StatusNotFound)
		return
	}
	twiml, err := ConferenceTwiML(name, h.PublicBaseURL+"/webhooks/twilio/conference")
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
