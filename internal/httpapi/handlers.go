// Package httpapi holds the HTTP handlers. Keep these thin: parse/validate
// input, call internal services, map errors to status codes, return JSON.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/agent"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/auth"
	"telecom-control-plane/internal/orchestrator"
	"telecom-control-plane/internal/policy"
	"telecom-control-plane/internal/rbac"
	"telecom-control-plane/internal/reporting"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"
	"telecom-control-plane/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Store     store.Store
	Policy    *policy.Engine
	Orch      *orchestrator.Orchestrator
	Resolver  *orchestrator.Resolver
	Reporting *reporting.Service
	Presence  *agent.Presence
	Auth      *auth.Manager
	Log       *slog.Logger
}

// --- Provisioning ---

type provisionRequest struct {
	Name string `json:"name"`
}

// Provision creates a workspace with default policies and a fresh API token.
// The token is returned exactly once; it is never readable again.
func (h Handlers) Provision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	token, err := newAPIToken()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	now := time.Now().UTC()
	ws := workspace.Workspace{
		ID:        uuid.NewString(),
		Name:      req.Name,
		APIToken:  token,
		Policies:  workspace.DefaultPolicies(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateWorkspace(c.Request.Context(), ws); err != nil {
		h.Log.Error("provision workspace", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "provision failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"workspace": ws,
		"api_token": token,
	})
}

func newAPIToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sk_" + hex.EncodeToString(b), nil
}

type providerRequest struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"`
}

// SetupProvider stores provider credentials for the workspace.
func (h Handlers) SetupProvider(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var req providerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pc := workspace.ProviderConfig{
		AccountSID: req.AccountSID,
		AuthToken:  req.AuthToken,
		FromNumber: req.FromNumber,
	}
	if !pc.Configured() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_sid, auth_token, from_number required"})
		return
	}
	if !actions.ValidE164(pc.FromNumber) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from_number must be E.164"})
		return
	}

	if err := h.Store.UpdateWorkspaceProvider(c.Request.Context(), ws.ID, pc); err != nil {
		h.Log.Error("setup provider", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "provider setup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

// --- Actions ---

// Dial places an outbound call, subject to policy.
func (h Handlers) Dial(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var p actions.DialParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := p.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := actions.EncodePayload(p)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if h.held(c, ws, actions.KindCallDial, payload) {
		return
	}

	leg, err := h.Orch.Dial(c.Request.Context(), ws, p)
	h.auditAction(c, ws, actions.KindCallDial, "call", leg.ID, err)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, leg)
}

// SendSms sends an outbound message, subject to policy.
func (h Handlers) SendSms(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var p actions.SmsParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := p.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := actions.EncodePayload(p)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if h.held(c, ws, actions.KindSmsSend, payload) {
		return
	}

	msg, err := h.Orch.SendSms(c.Request.Context(), ws, p)
	h.auditAction(c, ws, actions.KindSmsSend, "sms", msg.ID, err)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Merge pulls two live calls into a conference, subject to policy.
func (h Handlers) Merge(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var p actions.MergeParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := p.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := actions.EncodePayload(p)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if h.held(c, ws, actions.KindConferenceMerge, payload) {
		return
	}

	conf, err := h.Orch.Merge(c.Request.Context(), ws, p)
	h.auditAction(c, ws, actions.KindConferenceMerge, "conference", conf.ID, err)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conf)
}

// Release terminates a call, subject to policy.
func (h Handlers) Release(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var p actions.HangupParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := p.Validate(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := actions.EncodePayload(p)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if h.held(c, ws, actions.KindCallHangup, payload) {
		return
	}

	err = h.Orch.Hangup(c.Request.Context(), ws, p)
	h.auditAction(c, ws, actions.KindCallHangup, "call", p.CallSID, err)
	if err != nil {
		h.actionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "call_sid": p.CallSID})
}

// held runs policy evaluation and, when the action is parked, writes the 202
// response. Returns true when the caller should stop.
func (h Handlers) held(c *gin.Context, ws workspace.Workspace, kind actions.Kind, payload []byte) bool {
	actor := policy.Actor{
		Source: auth.ActorSourceFrom(c),
		Label:  "API User",
	}
	d, err := h.Policy.Evaluate(c.Request.Context(), ws, kind, payload, actor)
	if err != nil {
		h.Log.Error("policy evaluation", "workspace_id", ws.ID, "kind", kind, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "policy evaluation failed"})
		return true
	}
	if d.Authorized {
		return false
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":      "pending_approval",
		"approval_id": d.ApprovalID,
		"reason":      d.Reason,
	})
	return true
}

func (h Handlers) actionError(c *gin.Context, err error) {
	var pe *telephony.ProviderError
	switch {
	case errors.Is(err, orchestrator.ErrProviderNotConfigured):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "provider not configured"})
	case errors.As(err, &pe):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": pe.Message, "provider_code": pe.Code})
	default:
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// auditAction records the attempt best-effort; audit failure never fails the
// action response.
func (h Handlers) auditAction(c *gin.Context, ws workspace.Workspace, kind actions.Kind, entityType, entityID string, actionErr error) {
	e := audit.Event{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		ActorSource: auth.ActorSourceFrom(c),
		ActorLabel:  "API User",
		Action:      string(kind),
		EntityType:  entityType,
		EntityID:    entityID,
		OK:          actionErr == nil,
		CreatedAt:   time.Now().UTC(),
	}
	if actionErr != nil {
		e.Error = actionErr.Error()
	}
	if err := h.Store.AppendAudit(c.Request.Context(), e); err != nil {
		h.Log.Error("audit action", "action", kind, "err", err)
	}
}

// --- Reads ---

func (h Handlers) Status(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	snap, err := h.Reporting.StatusSnapshot(c.Request.Context(), ws)
	if err != nil {
		h.Log.Error("status snapshot", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h Handlers) Activity(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	act, err := h.Reporting.RecentActivity(c.Request.Context(), ws.ID, intQuery(c, "limit"))
	if err != nil {
		h.Log.Error("recent activity", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity failed"})
		return
	}
	c.JSON(http.StatusOK, act)
}

// --- Policies ---

func (h Handlers) GetPolicies(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	c.JSON(http.StatusOK, ws.Policies)
}

type patchPoliciesRequest struct {
	RequireApproval    *[]string `json:"require_approval"`
	MaxConcurrentCalls *int      `json:"max_concurrent_calls"`
	AllowedRegions     *[]string `json:"allowed_regions"`
}

// PatchPolicies partially updates workspace policy. Omitted fields keep their
// current value; a present require_approval replaces the whole list.
// Operator-token only.
func (h Handlers) PatchPolicies(c *gin.Context) {
	ws, ok := h.operatorWorkspace(c)
	if !ok {
		return
	}

	var req patchPoliciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	pol := ws.Policies
	if req.RequireApproval != nil {
		for _, k := range *req.RequireApproval {
			if _, err := actions.ParseKind(k); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		pol.RequireApproval = *req.RequireApproval
	}
	if req.MaxConcurrentCalls != nil {
		if *req.MaxConcurrentCalls < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "max_concurrent_calls must be >= 0"})
			return
		}
		pol.MaxConcurrentCalls = *req.MaxConcurrentCalls
	}
	if req.AllowedRegions != nil {
		pol.AllowedRegions = *req.AllowedRegions
	}

	if err := h.Store.UpdateWorkspacePolicies(c.Request.Context(), ws.ID, pol); err != nil {
		h.Log.Error("update policies", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "policy update failed"})
		return
	}
	c.JSON(http.StatusOK, pol)
}

// --- Approvals ---

func (h Handlers) ListApprovals(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	pending, err := h.Store.ListPendingApprovals(c.Request.Context(), ws.ID)
	if err != nil {
		h.Log.Error("list approvals", "workspace_id", ws.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": pending})
}

type decisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// DecideApproval resolves a pending approval. Operator-token only; the
// approved action executes asynchronously.
func (h Handlers) DecideApproval(c *gin.Context) {
	ws, ok := h.operatorWorkspace(c)
	if !ok {
		return
	}
	role, _ := auth.Role(c.Request.Context())
	if !rbac.CanDecideApprovals(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role cannot decide approvals"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	a, err := h.Resolver.Decide(c.Request.Context(), ws, c.Param("id"), req.Approve, userID, req.Reason)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "approval not found"})
		return
	case errors.Is(err, store.ErrAlreadyDecided):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "approval already decided"})
		return
	case err != nil:
		h.Log.Error("decide approval", "approval_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Agent presence ---

type heartbeatRequest struct {
	Name string `json:"name,omitempty"`
}

func (h Handlers) AgentHeartbeat(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	var req heartbeatRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.Presence.Heartbeat(c.Request.Context(), ws.ID, c.Param("id"), req.Name); err != nil {
		h.Log.Error("agent heartbeat", "agent_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) AgentStatus(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}
	st, err := h.Presence.Get(c.Request.Context(), ws.ID, c.Param("id"))
	if err != nil {
		h.Log.Error("agent status", "agent_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Auth ---

type mintTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// MintToken issues an operator JWT pair scoped to the authenticated
// workspace. The workspace API token is the bootstrap credential.
func (h Handlers) MintToken(c *gin.Context) {
	ws, ok := auth.WorkspaceFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace required"})
		return
	}

	var req mintTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	if req.Role == rbac.RoleSuperAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "cannot self-issue super_admin"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, ws.ID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- helpers ---

// operatorWorkspace resolves the workspace behind an operator JWT.
func (h Handlers) operatorWorkspace(c *gin.Context) (workspace.Workspace, bool) {
	wid, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || wid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return workspace.Workspace{}, false
	}
	ws, err := h.Store.GetWorkspace(c.Request.Context(), wid)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown workspace"})
		return workspace.Workspace{}, false
	}
	return ws, true
}

func intQuery(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RequireWorkspaceAndAnyRole bundles the operator-token middleware chain.
func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
