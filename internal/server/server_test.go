package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dopamas/querygate/internal/cache"
	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

type fakeService struct {
	lastMessage string
	lastSession string
	resp        *workflow.Response
	history     []cache.Exchange
	cleared     string
	snap        *schema.Snapshot
	schemaErr   error
	refreshed   bool
}

func (f *fakeService) Process(_ context.Context, message, sessionID string) (*workflow.Response, error) {
	if !workflow.ValidSessionID(sessionID) {
		return nil, workflow.ErrInvalidSession
	}
	f.lastMessage, f.lastSession = message, sessionID
	resp := *f.resp
	resp.SessionID = sessionID
	return &resp, nil
}

func (f *fakeService) History(_ context.Context, sid string) ([]cache.Exchange, error) {
	if !workflow.ValidSessionID(sid) {
		return nil, workflow.ErrInvalidSession
	}
	return f.history, nil
}

func (f *fakeService) ClearHistory(_ context.Context, sid string) error {
	if !workflow.ValidSessionID(sid) {
		return workflow.ErrInvalidSession
	}
	f.cleared = sid
	return nil
}

func (f *fakeService) Schema(_ context.Context, refresh bool) (*schema.Snapshot, error) {
	f.refreshed = refresh
	return f.snap, f.schemaErr
}

func (f *fakeService) Validate(query string, d validator.Dialect) validator.Result {
	return validator.New(validator.Options{}).Validate(query, d)
}

func newTestServer(t *testing.T, svc *fakeService, checks map[string]Check) *Server {
	t.Helper()
	if svc.resp == nil {
		svc.resp = &workflow.Response{Text: "Found 1 record.", Success: true}
	}
	return New(Config{Port: 0}, svc, checks, nil)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	srv := newTestServer(t, &fakeService{}, map[string]Check{"postgres": ok, "cache": ok})
	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "healthy" || body.Components["postgres"] != "ok" {
		t.Errorf("unexpected body %+v", body)
	}

	srv = newTestServer(t, &fakeService{}, map[string]Check{"postgres": ok, "mongo": down})
	w = do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "degraded" || body.Components["mongo"] != "unavailable" {
		t.Errorf("unexpected body %+v", body)
	}
	if strings.Contains(w.Body.String(), "refused") {
		t.Error("health response leaks error text")
	}
}

func TestChatMintsSession(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	w := do(t, srv, "POST", "/api/chat", `{"message":"show persons"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp workflow.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !workflow.ValidSessionID(resp.SessionID) || resp.SessionID != svc.lastSession {
		t.Errorf("session id = %q", resp.SessionID)
	}
	if svc.lastMessage != "show persons" || !resp.Success {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestChatErrors(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	if w := do(t, srv, "POST", "/api/chat", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/chat", `{"message":"x","session_id":"bad id"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad session: got %d", w.Code)
	}

	svc := &fakeService{resp: &workflow.Response{Text: "Message cannot be empty.", ErrorKind: workflow.KindInput}}
	srv = newTestServer(t, svc, nil)
	w := do(t, srv, "POST", "/api/chat", `{"message":""}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Message cannot be empty.") {
		t.Errorf("input error: got %d %s", w.Code, w.Body.String())
	}

	svc = &fakeService{resp: &workflow.Response{Text: "blocked", ErrorKind: workflow.KindBlocked}}
	srv = newTestServer(t, svc, nil)
	if w := do(t, srv, "POST", "/api/chat", `{"message":"drop it"}`); w.Code != http.StatusOK {
		t.Errorf("blocked: got %d", w.Code)
	}
}

func TestHistoryRoutes(t *testing.T) {
	svc := &fakeService{history: []cache.Exchange{{User: "q", Assistant: "a", Timestamp: time.Unix(0, 0)}}}
	srv := newTestServer(t, svc, nil)

	w := do(t, srv, "GET", "/api/chat/history/session-1234", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"assistant":"a"`) {
		t.Errorf("get: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "DELETE", "/api/chat/history/session-1234", ""); w.Code != http.StatusNoContent || svc.cleared != "session-1234" {
		t.Errorf("delete: %d cleared=%q", w.Code, svc.cleared)
	}
	if w := do(t, srv, "GET", "/api/chat/history/short", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: got %d", w.Code)
	}
}

func TestSchemaRoute(t *testing.T) {
	svc := &fakeService{snap: &schema.Snapshot{Tables: map[string][]schema.Column{"persons": {{Name: "id"}}}}}
	srv := newTestServer(t, svc, nil)

	w := do(t, srv, "GET", "/api/schema?refresh=true", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "persons") || !svc.refreshed {
		t.Errorf("schema: %d %s refreshed=%v", w.Code, w.Body.String(), svc.refreshed)
	}

	svc.schemaErr = errors.New("connection refused on 10.1.1.1")
	svc.snap = nil
	w = do(t, srv, "GET", "/api/schema", "")
	if w.Code != http.StatusServiceUnavailable || strings.Contains(w.Body.String(), "10.1.1.1") {
		t.Errorf("schema error: %d %s", w.Code, w.Body.String())
	}
}

func TestValidateRoute(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	w := do(t, srv, "POST", "/api/query/validate", `{"query":"DROP TABLE crimes"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res struct {
		Verdict string   `json:"verdict"`
		Threats []string `json:"threat_types"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Verdict != "blocked" || len(res.Threats) == 0 || res.Threats[0] != "write-operation" {
		t.Errorf("unexpected result %+v", res)
	}

	if w := do(t, srv, "POST", "/api/query/validate", `{"query":"x","dialect":"graph"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad dialect: got %d", w.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := New(Config{Port: 0, AllowAll: true}, &fakeService{}, nil, nil)

	req := httptest.NewRequest("OPTIONS", "/api/health", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}
