package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"telecom-control-plane/internal/actions"
	"telecom-control-plane/internal/approvals"
	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/auth"
	"telecom-control-plane/internal/config"
	"telecom-control-plane/internal/orchestrator"
	"telecom-control-plane/internal/policy"
	"telecom-control-plane/internal/rbac"
	"telecom-control-plane/internal/reconcile"
	"telecom-control-plane/internal/reporting"
	"telecom-control-plane/internal/store"
	"telecom-control-plane/internal/telephony"
	"telecom-control-plane/internal/workspace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeProvider struct {
	mu sync.Mutex

	placeCall   func(telephony.CallParams) (telephony.CallResult, error)
	sendMessage func(telephony.MessageParams) (telephony.MessageResult, error)

	placed []telephony.CallParams
	sent   []telephony.MessageParams
}

func (f *fakeProvider) PlaceCall(_ context.Context, p telephony.CallParams) (telephony.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, p)
	if f.placeCall != nil {
		return f.placeCall(p)
	}
	return telephony.CallResult{CallSID: "CA" + uuid.NewString()[:8], Status: "queued"}, nil
}

func (f *fakeProvider) SendMessage(_ context.Context, p telephony.MessageParams) (telephony.MessageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	if f.sendMessage != nil {
		return f.sendMessage(p)
	}
	return telephony.MessageResult{MessageSID: "SM" + uuid.NewString()[:8], Status: "queued"}, nil
}

func (f *fakeProvider) RedirectCall(context.Context, string, string) error { return nil }
func (f *fakeProvider) TerminateCall(context.Context, string) error        { return nil }

func (f *fakeProvider) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

const testToken = "sk_test_token"

type testEnv struct {
	router   *gin.Engine
	mem      *store.Memory
	ws       workspace.Workspace
	fake     *fakeProvider
	resolver *orchestrator.Resolver
	authMgr  *auth.Manager
}

// newTestEnv wires the handlers the way cmd/api does, against the in-memory
// store and a fake provider.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := store.NewMemory()
	ws := workspace.Workspace{
		ID:       "ws1",
		Name:     "desk",
		APIToken: testToken,
		Policies: workspace.DefaultPolicies(),
		Provider: workspace.ProviderConfig{
			AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550009999",
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := mem.CreateWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	fake := &fakeProvider{}
	orch := orchestrator.New(mem, func(workspace.Workspace) telephony.Client { return fake },
		"https://cp.example.com", log)
	resolver := orchestrator.NewResolver(mem, orch, log)

	authMgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	h := Handlers{
		Store:     mem,
		Policy:    policy.New(mem, log),
		Orch:      orch,
		Resolver:  resolver,
		Reporting: reporting.NewService(mem),
		Auth:      authMgr,
		Log:       log,
	}

	wh := &telephony.WebhookHandlers{
		Reconciler:    reconcile.New(mem, log),
		Workspaces:    mem,
		PublicBaseURL: "https://cp.example.com",
	}

	r := gin.New()
	r.POST("/v1/workspaces", h.Provision)
	r.POST("/webhooks/twilio/voice", wh.VoiceStatus)

	api := r.Group("/v1", auth.RequireWorkspaceToken(mem))
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
		api.POST("/auth/token", h.MintToken)
	}

	opRoles := RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleOperator)
	op := r.Group("/v1", auth.RequireAccessToken(authMgr))
	op.Use(opRoles...)
	{
		op.PATCH("/policies", h.PatchPolicies)
		op.POST("/approvals/:id/decision", h.DecideApproval)
	}

	return &testEnv{router: r, mem: mem, ws: ws, fake: fake, resolver: resolver, authMgr: authMgr}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func wsHeaders() map[string]string {
	return map[string]string{"X-Workspace-Token": testToken}
}

func (e *testEnv) operatorToken(t *testing.T, role string) string {
	t.Helper()
	pair, err := e.authMgr.IssuePair(time.Now(), "user-1", e.ws.ID, role)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	return pair.AccessToken
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestProvisionReturnsTokenOnce(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/workspaces", `{"name":"acme"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	tok, _ := body["api_token"].(string)
	if !strings.HasPrefix(tok, "sk_") {
		t.Fatalf("api_token = %q, want sk_ prefix", tok)
	}

	got, err := env.mem.GetWorkspaceByToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("lookup by token: %v", err)
	}
	if got.Name != "acme" {
		t.Fatalf("name = %q", got.Name)
	}
	// The token must not leak through workspace serialization.
	wsBody, _ := body["workspace"].(map[string]any)
	if _, leaked := wsBody["api_token"]; leaked {
		t.Fatal("api_token serialized inside workspace object")
	}
}

func TestProvisionRequiresName(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/v1/workspaces", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDialAuthorizedExecutesAndAudits(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155551234"}`, wsHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if env.fake.placedCount() != 1 {
		t.Fatalf("placed = %d, want 1", env.fake.placedCount())
	}

	var found bool
	for _, e := range env.mem.AuditEvents() {
		if e.Action == string(actions.KindCallDial) && e.OK {
			found = true
			if e.ActorSource != audit.ActorAPI {
				t.Fatalf("actor source = %q", e.ActorSource)
			}
		}
	}
	if !found {
		t.Fatal("no audit row for call.dial")
	}
}

func TestDialHeldByPolicy(t *testing.T) {
	env := newTestEnv(t)
	pol := env.ws.Policies
	pol.RequireApproval = []string{string(actions.KindCallDial)}
	if err := env.mem.UpdateWorkspacePolicies(context.Background(), env.ws.ID, pol); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155551234"}`, wsHeaders())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "pending_approval" || body["approval_id"] == "" {
		t.Fatalf("body = %v", body)
	}
	if env.fake.placedCount() != 0 {
		t.Fatal("provider was called for a held action")
	}
}

func TestDialRejectsBadNumber(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"911"}`, wsHeaders()); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if env.fake.placedCount() != 0 {
		t.Fatal("provider called on invalid input")
	}
}

func TestMissingWorkspaceTokenUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155551234"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSendSmsProviderErrorMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.fake.sendMessage = func(telephony.MessageParams) (telephony.MessageResult, error) {
		return telephony.MessageResult{}, &telephony.ProviderError{HTTPStatus: 400, Code: 21211, Message: "invalid 'To' number"}
	}

	w := env.do(t, http.MethodPost, "/v1/actions/sms.send", `{"to":"+14155551234","body":"hi"}`, wsHeaders())
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["provider_code"] != float64(21211) {
		t.Fatalf("provider_code = %v", body["provider_code"])
	}
}

func TestHangupUnconfiguredProviderConflict(t *testing.T) {
	env := newTestEnv(t)
	if err := env.mem.UpdateWorkspaceProvider(context.Background(), env.ws.ID, workspace.ProviderConfig{}); err != nil {
		t.Fatalf("clear provider: %v", err)
	}

	w := env.do(t, http.MethodPost, "/v1/actions/call.hangup", `{"call_sid":"CA123"}`, wsHeaders())
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestPatchPoliciesPartialUpdate(t *testing.T) {
	env := newTestEnv(t)
	tok := env.operatorToken(t, rbac.RoleOwner)

	w := env.do(t, http.MethodPatch, "/v1/policies", `{"max_concurrent_calls":2}`,
		map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got, err := env.mem.GetWorkspace(context.Background(), env.ws.ID)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if got.Policies.MaxConcurrentCalls != 2 {
		t.Fatalf("ceiling = %d", got.Policies.MaxConcurrentCalls)
	}
	if len(got.Policies.AllowedRegions) == 0 {
		t.Fatal("untouched field was clobbered")
	}
}

func TestPatchPoliciesRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	tok := env.operatorToken(t, rbac.RoleOwner)

	w := env.do(t, http.MethodPatch, "/v1/policies", `{"require_approval":["call.teleport"]}`,
		map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestDecideApprovalAgentForbidden(t *testing.T) {
	env := newTestEnv(t)
	tok := env.operatorToken(t, rbac.RoleAgent)

	w := env.do(t, http.MethodPost, "/v1/approvals/ap1/decision", `{"approve":true}`,
		map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestDecideApprovalApproveExecutesHeldDial(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := actions.EncodePayload(actions.DialParams{To: "+14155551234"})
	a := approvals.Approval{
		ID:          "ap1",
		WorkspaceID: env.ws.ID,
		Status:      approvals.StatusPending,
		Kind:        actions.KindCallDial,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := env.mem.CreateApproval(context.Background(), a); err != nil {
		t.Fatalf("seed approval: %v", err)
	}

	tok := env.operatorToken(t, rbac.RoleOperator)
	w := env.do(t, http.MethodPost, "/v1/approvals/ap1/decision", `{"approve":true}`,
		map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	env.resolver.Wait()

	if env.fake.placedCount() != 1 {
		t.Fatalf("placed = %d, want held dial executed once", env.fake.placedCount())
	}

	got, err := env.mem.GetApproval(context.Background(), env.ws.ID, "ap1")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != approvals.StatusApproved || got.DecidedBy != "user-1" {
		t.Fatalf("approval after decide = %+v", got)
	}
}

func TestDecideApprovalTwiceConflict(t *testing.T) {
	env := newTestEnv(t)

	payload, _ := actions.EncodePayload(actions.HangupParams{CallSID: "CA123"})
	a := approvals.Approval{
		ID: "ap2", WorkspaceID: env.ws.ID, Status: approvals.StatusPending,
		Kind: actions.KindCallHangup, Payload: payload, CreatedAt: time.Now().UTC(),
	}
	if err := env.mem.CreateApproval(context.Background(), a); err != nil {
		t.Fatalf("seed approval: %v", err)
	}

	tok := env.operatorToken(t, rbac.RoleOwner)
	hdr := map[string]string{"Authorization": "Bearer " + tok}
	if w := env.do(t, http.MethodPost, "/v1/approvals/ap2/decision", `{"approve":false,"reason":"no"}`, hdr); w.Code != http.StatusOK {
		t.Fatalf("first decision status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/approvals/ap2/decision", `{"approve":true}`, hdr); w.Code != http.StatusConflict {
		t.Fatalf("second decision status = %d", w.Code)
	}
	env.resolver.Wait()
	if env.fake.placedCount() != 0 {
		t.Fatal("denied action executed")
	}
}

func TestListApprovalsPendingOnly(t *testing.T) {
	env := newTestEnv(t)
	pol := env.ws.Policies
	pol.RequireApproval = []string{string(actions.KindSmsSend)}
	if err := env.mem.UpdateWorkspacePolicies(context.Background(), env.ws.ID, pol); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	if w := env.do(t, http.MethodPost, "/v1/actions/sms.send", `{"to":"+14155551234","body":"hi"}`, wsHeaders()); w.Code != http.StatusAccepted {
		t.Fatalf("hold status = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/v1/approvals", "", wsHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	list, _ := body["approvals"].([]any)
	if len(list) != 1 {
		t.Fatalf("pending approvals = %d, want 1", len(list))
	}
}

func TestStatusSnapshotEndpoint(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155551234"}`, wsHeaders()); w.Code != http.StatusCreated {
		t.Fatalf("dial status = %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/v1/status", "", wsHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["provider_configured"] != true {
		t.Fatalf("provider_configured = %v", body["provider_configured"])
	}
	calls, _ := body["active_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("active_calls = %d", len(calls))
	}
}

func TestMintTokenIssuesWorkspaceScopedJWT(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/auth/token", `{"user_id":"u9","role":"operator"}`, wsHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	access, _ := body["access_token"].(string)

	claims, err := env.authMgr.Verify(access, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.WorkspaceID != env.ws.ID || claims.Role != "operator" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestMintTokenRefusesSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/v1/auth/token", `{"user_id":"u9","role":"super_admin"}`, wsHeaders())
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

// TestDialThenWebhookLifecycle walks the full outbound path: dial through the
// API, then fold the provider's completion callback in, twice.
func TestDialThenWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.fake.placeCall = func(telephony.CallParams) (telephony.CallResult, error) {
		return telephony.CallResult{CallSID: "CA123", Status: "queued"}, nil
	}

	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155550100"}`, wsHeaders()); w.Code != http.StatusCreated {
		t.Fatalf("dial status = %d, body %s", w.Code, w.Body.String())
	}

	leg, err := env.mem.GetCallByProviderID(context.Background(), env.ws.ID, "CA123")
	if err != nil {
		t.Fatalf("leg after dial: %v", err)
	}
	if leg.State != "initiated" {
		t.Fatalf("state after dial = %q", leg.State)
	}

	postWebhook := func() {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice",
			strings.NewReader("CallSid=CA123&CallStatus=completed"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("webhook status = %d", w.Code)
		}
	}

	postWebhook()
	leg, err = env.mem.GetCallByProviderID(context.Background(), env.ws.ID, "CA123")
	if err != nil {
		t.Fatalf("leg after webhook: %v", err)
	}
	if leg.State != "completed" || leg.EndedAt == nil {
		t.Fatalf("leg after webhook = %+v", leg)
	}

	// Identical re-delivery is a no-op: state unchanged, one ledger row.
	postWebhook()
	key := reconcile.EventKey("twilio", "voice", "CA123", "completed")
	if n, _ := env.mem.CountEvents(context.Background(), key); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
}

// TestConcurrencyGateReleasesOnCompletion drives one call through the full
// cycle: the first dial fills the ceiling, the next one is held, and the
// provider's completion callback frees the slot for a fresh dial.
func TestConcurrencyGateReleasesOnCompletion(t *testing.T) {
	env := newTestEnv(t)
	pol := env.ws.Policies
	pol.MaxConcurrentCalls = 1
	if err := env.mem.UpdateWorkspacePolicies(context.Background(), env.ws.ID, pol); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	var dials int
	env.fake.placeCall = func(telephony.CallParams) (telephony.CallResult, error) {
		dials++
		return telephony.CallResult{CallSID: "CA90" + strings.Repeat("0", dials), Status: "queued"}, nil
	}

	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155550111"}`, wsHeaders()); w.Code != http.StatusCreated {
		t.Fatalf("first dial status = %d, body %s", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155550222"}`, wsHeaders())
	if w.Code != http.StatusAccepted {
		t.Fatalf("second dial status = %d, want held, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	reason, _ := body["reason"].(string)
	if !strings.Contains(reason, "max concurrent calls") {
		t.Fatalf("hold reason = %q", reason)
	}
	if env.fake.placedCount() != 1 {
		t.Fatalf("placed = %d after held dial, want 1", env.fake.placedCount())
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice",
		strings.NewReader("CallSid=CA900&CallStatus=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	if w := env.do(t, http.MethodPost, "/v1/actions/call.dial", `{"to":"+14155550333"}`, wsHeaders()); w.Code != http.StatusCreated {
		t.Fatalf("dial after completion status = %d, body %s", w.Code, w.Body.String())
	}
	if env.fake.placedCount() != 2 {
		t.Fatalf("placed = %d, want 2", env.fake.placedCount())
	}
}

// TestCampaignLifecycleEndpoints walks the producer path: create a campaign,
// load targets, activate it, and confirm the queue only serves it while active.
func TestCampaignLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	w := env.do(t, http.MethodPost, "/v1/campaigns", `{"name":"spring outreach"}`, wsHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)
	campID, _ := created["id"].(string)
	if campID == "" || created["status"] != "draft" {
		t.Fatalf("created campaign = %v", created)
	}

	if w := env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/items",
		`{"to":["+14155550100","911"]}`, wsHeaders()); w.Code != http.StatusBadRequest {
		t.Fatalf("bad number batch status = %d, want whole batch rejected", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/items",
		`{"to":["+14155550100","+14155550101"]}`, wsHeaders())
	if w.Code != http.StatusCreated {
		t.Fatalf("add items status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["added"] != float64(2) {
		t.Fatalf("added = %v, want 2", body["added"])
	}

	w = env.do(t, http.MethodGet, "/v1/campaigns", "", wsHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if list, _ := decodeBody(t, w)["campaigns"].([]any); len(list) != 1 {
		t.Fatalf("campaigns = %d, want 1", len(list))
	}

	// Draft campaigns never reach the dial queue.
	if _, ok, _ := env.mem.NextPendingCampaignItem(ctx); ok {
		t.Fatal("draft campaign item served to the worker")
	}

	w = env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/status", `{"status":"active"}`, wsHeaders())
	if w.Code != http.StatusOK {
		t.Fatalf("activate status = %d, body %s", w.Code, w.Body.String())
	}
	item, ok, err := env.mem.NextPendingCampaignItem(ctx)
	if err != nil || !ok {
		t.Fatalf("next pending after activate: ok=%v err=%v", ok, err)
	}
	if item.To != "+14155550100" {
		t.Fatalf("next item to = %q, want batch order preserved", item.To)
	}

	if w := env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/status", `{"status":"paused"}`, wsHeaders()); w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	if _, ok, _ := env.mem.NextPendingCampaignItem(ctx); ok {
		t.Fatal("paused campaign item served to the worker")
	}
}

func TestCampaignStatusRejectsUnknownValue(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/campaigns", `{"name":"x"}`, wsHeaders())
	campID, _ := decodeBody(t, w)["id"].(string)

	if w := env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/status", `{"status":"archived"}`, wsHeaders()); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/campaigns/"+campID+"/status", `{"status":"draft"}`, wsHeaders()); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, draft is create-time only", w.Code)
	}
}

func TestCampaignItemsUnknownCampaignNotFound(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodPost, "/v1/campaigns/nope/items", `{"to":["+14155550100"]}`, wsHeaders()); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/campaigns/nope/status", `{"status":"active"}`, wsHeaders()); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSetupProviderValidatesFromNumber(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/v1/provider",
		`{"account_sid":"AC2","auth_token":"t2","from_number":"5551234"}`, wsHeaders())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}
