package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	app "github.com/richiesta-assistenza/service_layer/internal/app"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type testServer struct {
	t       *testing.T
	app     *app.Application
	handler *Handler
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		JWTSecret:   testSecret,
		HealthCheck: app.HealthCheckOptions{ReportDir: t.TempDir()},
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	cfg.JWTSecret = testSecret
	h, err := New(application, cfg, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return &testServer{t: t, app: application, handler: h}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, resp.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
	}
	return env
}

func (s *testServer) register(email, role string) (string, string) {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     email,
		"password":  "Password123!",
		"firstName": "Test",
		"lastName":  "User",
		"role":      role,
	})
	if resp.Code != http.StatusCreated {
		s.t.Fatalf("register %s: expected 201, got %d: %s", email, resp.Code, resp.Body.String())
	}
	var session struct {
		User   struct{ ID string } `json:"user"`
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
	}
	decodeEnvelope(s.t, resp, &session)
	if session.Tokens.AccessToken == "" {
		s.t.Fatalf("expected access token for %s", email)
	}
	return session.User.ID, session.Tokens.AccessToken
}

func (s *testServer) adminToken() string {
	s.t.Helper()
	token, err := s.app.Auth.IssueAccessToken(user.User{ID: "admin-1", Email: "admin@example.com", Role: user.RoleAdmin})
	if err != nil {
		s.t.Fatalf("issue admin token: %v", err)
	}
	return token
}

// category creates an active category through the admin API and returns its id.
func (s *testServer) category(name string) string {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/admin/categories", s.adminToken(), map[string]string{"name": name})
	if resp.Code != http.StatusCreated {
		s.t.Fatalf("create category %s: expected 201, got %d: %s", name, resp.Code, resp.Body.String())
	}
	var c struct {
		ID string `json:"id"`
	}
	decodeEnvelope(s.t, resp, &c)
	return c.ID
}

func (s *testServer) createRequest(token, categoryID string) string {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/api/requests", token, map[string]string{
		"title":       "Caldaia in blocco",
		"description": "La caldaia non parte",
		"categoryId":  categoryID,
		"address":     "Via Roma 1",
		"city":        "Milano",
		"province":    "MI",
		"postalCode":  "20121",
	})
	if resp.Code != http.StatusCreated {
		s.t.Fatalf("create request: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var req struct {
		ID string `json:"id"`
	}
	decodeEnvelope(s.t, resp, &req)
	return req.ID
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t, Config{})

	resp := s.do(http.MethodGet, "/healthz", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 healthz, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/readyz", "", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", resp.Code)
	}

	if err := s.app.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	defer s.app.Stop(context.Background())

	resp = s.do(http.MethodGet, "/readyz", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 readyz, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK || resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output, got %d", resp.Code)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t, Config{})

	resp := s.do(http.MethodGet, "/api/requests", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	env := decodeEnvelope(t, resp, nil)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", resp.Body.String())
	}

	resp = s.do(http.MethodGet, "/api/requests", "not-a-token", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.Code)
	}
}

func TestRegisterLoginAndProfile(t *testing.T) {
	s := newTestServer(t, Config{})
	_, token := s.register("mario@example.com", "client")

	resp := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "mario@example.com", "password": "Password123!", "firstName": "M", "lastName": "R",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate email, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "mario@example.com", "password": "wrong-password"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 wrong password, got %d", resp.Code)
	}
	resp = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "mario@example.com", "password": "Password123!"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 login, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/api/auth/me", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 me, got %d", resp.Code)
	}
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	decodeEnvelope(t, resp, &me)
	if me.Email != "mario@example.com" || me.Role != "client" {
		t.Fatalf("unexpected profile %+v", me)
	}

	resp = s.do(http.MethodPut, "/api/users/me", token, map[string]string{"phone": "3331234567"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 profile update, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodPut, "/api/users/me/preferences", token, map[string]bool{"sms": true})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 preferences update, got %d", resp.Code)
	}

	resp = s.do(http.MethodPut, "/api/users/me", token, map[string]string{"unknown": "x"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}
}

func TestRequestQuoteFlow(t *testing.T) {
	s := newTestServer(t, Config{})
	_, clientToken := s.register("cliente@example.com", "client")
	proID, proToken := s.register("idraulico@example.com", "professional")

	reqBody := map[string]string{
		"title":       "Perdita rubinetto",
		"description": "Il rubinetto della cucina perde",
		"categoryId":  "idraulica",
		"address":     "Via Roma 1",
		"city":        "Milano",
		"province":    "MI",
		"postalCode":  "20121",
	}
	resp := s.do(http.MethodPost, "/api/requests", clientToken, reqBody)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown category, got %d", resp.Code)
	}
	reqBody = map[string]string{
		"title":       "Perdita rubinetto",
		"description": "Il rubinetto della cucina perde",
		"categoryId":  s.category("Idraulica"),
		"address":     "Via Roma 1",
		"city":        "Milano",
		"province":    "MI",
		"postalCode":  "20121",
	}
	resp = s.do(http.MethodPost, "/api/requests", proToken, reqBody)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 professional creating request, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/requests", clientToken, reqBody)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create request, got %d: %s", resp.Code, resp.Body.String())
	}
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeEnvelope(t, resp, &req)
	if req.Status != "pending" {
		t.Fatalf("expected pending status, got %q", req.Status)
	}

	resp = s.do(http.MethodGet, "/api/requests?status=bogus", clientToken, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 bad status filter, got %d", resp.Code)
	}
	resp = s.do(http.MethodGet, "/api/requests?status=pending", clientToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"totalPages":1`) {
		t.Fatalf("expected pagination block, got %s", resp.Body.String())
	}

	resp = s.do(http.MethodPost, "/api/quotes", proToken, map[string]interface{}{
		"requestId": req.ID,
		"title":     "Riparazione",
		"items":     []map[string]interface{}{{"description": "Guarnizione", "quantity": 1, "unitPrice": 8000}},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create quote, got %d: %s", resp.Code, resp.Body.String())
	}
	var q struct {
		ID          string `json:"id"`
		TotalAmount int64  `json:"totalAmount"`
	}
	decodeEnvelope(t, resp, &q)
	if q.TotalAmount != 9760 {
		t.Fatalf("expected total 9760, got %d", q.TotalAmount)
	}

	resp = s.do(http.MethodGet, "/api/requests/"+req.ID+"/quotes", clientToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 request quotes, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/api/quotes/compare/"+req.ID, clientToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 compare, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/quotes/"+q.ID+"/accept", proToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 professional accepting, got %d", resp.Code)
	}
	resp = s.do(http.MethodPost, "/api/quotes/"+q.ID+"/accept", clientToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 accept, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodGet, "/api/requests/"+req.ID, clientToken, nil)
	var assigned struct {
		ProfessionalID string `json:"professionalId"`
	}
	decodeEnvelope(t, resp, &assigned)
	if assigned.ProfessionalID != proID {
		t.Fatalf("expected request assigned to %s, got %q", proID, assigned.ProfessionalID)
	}

	resp = s.do(http.MethodPost, "/api/requests/"+req.ID+"/messages", clientToken, map[string]string{"content": "Quando passa?"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 chat message, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = s.do(http.MethodGet, "/api/requests/"+req.ID+"/messages/unread", proToken, nil)
	var unread struct {
		Unread int `json:"unread"`
	}
	decodeEnvelope(t, resp, &unread)
	if unread.Unread != 1 {
		t.Fatalf("expected 1 unread message for professional, got %d", unread.Unread)
	}
}

func TestCategoryRoutes(t *testing.T) {
	s := newTestServer(t, Config{})
	_, clientToken := s.register("cliente@example.com", "client")
	admin := s.adminToken()

	resp := s.do(http.MethodPost, "/api/admin/categories", clientToken, map[string]string{"name": "Idraulica"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 client creating category, got %d", resp.Code)
	}

	plumbing := s.category("Idraulica")
	resp = s.do(http.MethodPost, "/api/admin/categories", admin, map[string]string{"name": "idraulica"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 duplicate slug, got %d", resp.Code)
	}
	resp = s.do(http.MethodPost, "/api/admin/categories", admin, map[string]interface{}{"name": "Traslochi", "isActive": false})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 inactive category, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/admin/subcategories", admin, map[string]string{"categoryId": plumbing, "name": "Rubinetteria"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 subcategory, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodGet, "/api/categories", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 public categories, got %d", resp.Code)
	}
	var public []struct {
		ID               string `json:"id"`
		Slug             string `json:"slug"`
		SubcategoryCount int    `json:"subcategoryCount"`
	}
	decodeEnvelope(t, resp, &public)
	if len(public) != 1 || public[0].Slug != "idraulica" || public[0].SubcategoryCount != 1 {
		t.Fatalf("unexpected public catalogue %+v", public)
	}

	resp = s.do(http.MethodGet, "/api/categories/"+plumbing+"/subcategories", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "rubinetteria") {
		t.Fatalf("expected subcategory listing, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodGet, "/api/admin/categories", admin, nil)
	var all []struct{ ID string }
	decodeEnvelope(t, resp, &all)
	if len(all) != 2 {
		t.Fatalf("expected admin to see 2 categories, got %d", len(all))
	}

	resp = s.do(http.MethodDelete, "/api/admin/categories/"+plumbing, admin, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting category with subcategories, got %d", resp.Code)
	}
}

func TestRequestTravelAccess(t *testing.T) {
	s := newTestServer(t, Config{})
	_, ownerToken := s.register("cliente@example.com", "client")
	_, otherToken := s.register("vicino@example.com", "client")
	quotingID, quotingToken := s.register("idraulico@example.com", "professional")
	idleID, idleToken := s.register("elettricista@example.com", "professional")
	reqID := s.createRequest(ownerToken, s.category("Riscaldamento"))

	resp := s.do(http.MethodPost, "/api/quotes", quotingToken, map[string]interface{}{
		"requestId": reqID,
		"title":     "Sopralluogo",
		"items":     []map[string]interface{}{{"description": "Uscita", "quantity": 1, "unitPrice": 5000}},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 quote, got %d: %s", resp.Code, resp.Body.String())
	}

	path := "/api/requests/" + reqID + "/travel"
	resp = s.do(http.MethodGet, path+"?professionalId="+quotingID, otherToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an unrelated client, got %d", resp.Code)
	}
	resp = s.do(http.MethodGet, path, idleToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a professional without a quote, got %d", resp.Code)
	}
	resp = s.do(http.MethodGet, path+"?professionalId="+idleID, ownerToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 asking for a professional without a quote, got %d", resp.Code)
	}
	resp = s.do(http.MethodGet, path+"?professionalId="+quotingID, ownerToken, nil)
	if resp.Code == http.StatusForbidden {
		t.Fatalf("owner should reach travel info for a quoting professional: %s", resp.Body.String())
	}
	resp = s.do(http.MethodGet, path, quotingToken, nil)
	if resp.Code == http.StatusForbidden {
		t.Fatalf("quoting professional should reach its own travel info: %s", resp.Body.String())
	}
}

func TestAdminRoutesAndAudit(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit", "admin.jsonl")
	s := newTestServer(t, Config{AuditPath: auditPath})
	_, clientToken := s.register("cliente@example.com", "client")
	admin := s.adminToken()

	resp := s.do(http.MethodGet, "/api/admin/deposit-rules", clientToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/admin/deposit-rules", admin, map[string]interface{}{
		"name":       "Idraulica",
		"type":       "percentage",
		"percentage": 25,
		"categoryId": "idraulica",
		"isActive":   true,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 deposit rule, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodPost, "/api/admin/notifications/broadcast", admin, map[string]string{"title": "", "message": ""})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 empty broadcast, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/api/admin/audit", admin, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 audit, got %d", resp.Code)
	}
	var entries []auditEntry
	decodeEnvelope(t, resp, &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Path != "/api/admin/notifications/broadcast" || entries[0].Status != http.StatusBadRequest {
		t.Fatalf("expected newest entry first, got %+v", entries[0])
	}
	if entries[1].User != "admin-1" || entries[1].Status != http.StatusCreated {
		t.Fatalf("unexpected audit entry %+v", entries[1])
	}

	if err := s.handler.Stop(context.Background()); err != nil {
		t.Fatalf("stop handler: %v", err)
	}
	raw, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 2 {
		t.Fatalf("expected 2 audit lines, got %d", lines)
	}
}

func TestHealthCheckAdminRoutes(t *testing.T) {
	s := newTestServer(t, Config{})
	admin := s.adminToken()

	resp := s.do(http.MethodPost, "/api/admin/health-check/run/auth-system", admin, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 run, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = s.do(http.MethodPost, "/api/admin/health-check/run/unknown", admin, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown module, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/api/admin/health-check/history/auth-system", admin, nil)
	var history []struct {
		Module string `json:"module"`
	}
	decodeEnvelope(t, resp, &history)
	if len(history) != 1 || history[0].Module != "auth-system" {
		t.Fatalf("unexpected history %+v", history)
	}

	resp = s.do(http.MethodGet, "/api/admin/health-check/remediation/rules", admin, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 rules, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/admin/health-check/reports", admin, map[string]string{"from": "2026-01-10", "to": "2026-01-01"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 inverted period, got %d", resp.Code)
	}
	resp = s.do(http.MethodPost, "/api/admin/health-check/reports", admin, nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 report, got %d: %s", resp.Code, resp.Body.String())
	}
	var record struct {
		ID string `json:"id"`
	}
	decodeEnvelope(t, resp, &record)

	resp = s.do(http.MethodGet, "/api/admin/health-check/reports/"+record.ID+"/download", admin, nil)
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf download, got %d %s", resp.Code, resp.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected PDF body")
	}
}

func TestPublicEndpointsValidateInput(t *testing.T) {
	s := newTestServer(t, Config{})

	resp := s.do(http.MethodPost, "/api/payments/webhook", "", map[string]string{"object": "event"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 webhook without id, got %d", resp.Code)
	}

	resp = s.do(http.MethodPost, "/api/referrals/click/NOPE", "", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown referral code, got %d", resp.Code)
	}

	resp = s.do(http.MethodGet, "/api/does-not-exist", s.adminToken(), nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown route, got %d", resp.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimitRPS: 1, RateLimitBurst: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(http.MethodGet, "/healthz", "", nil).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}
