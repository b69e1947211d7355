package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hylla/ticketflow/internal/adapters/rules"
	"github.com/hylla/ticketflow/internal/adapters/server/common"
	"github.com/hylla/ticketflow/internal/adapters/storage/sqlite"
	"github.com/hylla/ticketflow/internal/app"
)

// newTestDependencies wires the real service stack over an in-memory repository.
func newTestDependencies(t *testing.T) Dependencies {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	n := 0
	svc := app.NewService(repo, func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}, nil, app.ServiceConfig{
		Evaluator:  rules.NewEvaluator(),
		Dispatcher: rules.NewDispatcher(nil),
	})
	adapter := common.NewAppServiceAdapter(svc)
	return Dependencies{Workflows: adapter, Tickets: adapter, Ready: repo.Ping}
}

// doJSON sends one request through the handler and decodes a JSON object response.
func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Decode(%s %s) error = %v", method, path, err)
	}
	return rec.Code, out
}

// TestNewHandlerServesTicketFlow verifies the composed mux routes API calls into the service.
func TestNewHandlerServesTicketFlow(t *testing.T) {
	handler, cfg, err := NewHandler(Config{}, newTestDependencies(t))
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" || cfg.ServerName != "ticketflow" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	status, body := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %#v", status, body)
	}
	status, _ = doJSON(t, handler, http.MethodGet, "/readyz", nil)
	if status != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", status)
	}

	status, ticket := doJSON(t, handler, http.MethodPost, "/api/v1/tickets", map[string]any{
		"tenant_id": "acme",
		"title":     "VPN down",
		"actor":     map[string]any{"id": "cust-1", "roles": []string{"customer"}},
	})
	if status != http.StatusCreated || ticket["status"] != "new" {
		t.Fatalf("create ticket = %d %#v", status, ticket)
	}
	ticketID, _ := ticket["id"].(string)

	status, denied := doJSON(t, handler, http.MethodPost, "/api/v1/tickets/"+ticketID+"/transition", map[string]any{
		"target_status": "open",
		"actor":         map[string]any{"id": "cust-1", "roles": []string{"customer"}},
	})
	if status != http.StatusForbidden {
		t.Fatalf("customer transition status = %d, want 403 body=%#v", status, denied)
	}

	status, moved := doJSON(t, handler, http.MethodPost, "/api/v1/tickets/"+ticketID+"/transition", map[string]any{
		"target_status": "Open",
		"actor":         map[string]any{"id": "agent-1", "roles": []string{"agent"}},
	})
	if status != http.StatusOK {
		t.Fatalf("agent transition status = %d body=%#v", status, moved)
	}
	movedTicket, _ := moved["ticket"].(map[string]any)
	if movedTicket["status"] != "open" {
		t.Fatalf("moved ticket = %#v, want status open", movedTicket)
	}

	status, wf := doJSON(t, handler, http.MethodGet, "/api/v1/workflows/active?tenant_id=acme", nil)
	if status != http.StatusOK || wf["is_system_default"] != true {
		t.Fatalf("active workflow = %d %#v", status, wf)
	}
}

// TestNewHandlerReadinessFailure verifies `/readyz` reports the readiness check error.
func TestNewHandlerReadinessFailure(t *testing.T) {
	deps := newTestDependencies(t)
	deps.Ready = func(context.Context) error { return errors.New("db down") }
	handler, _, err := NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	status, body := doJSON(t, handler, http.MethodGet, "/readyz", nil)
	if status != http.StatusServiceUnavailable || body["status"] != "unavailable" {
		t.Fatalf("readyz = %d %#v", status, body)
	}
}

// TestNewHandlerValidation verifies dependency and endpoint checks.
func TestNewHandlerValidation(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("NewHandler() error = nil, want missing dependency error")
	}
	if _, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}, newTestDependencies(t)); err == nil {
		t.Fatal("NewHandler() error = nil, want endpoint collision error")
	}
}

// TestNormalizeEndpoint verifies endpoint path normalization.
func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: "/api/v1"},
		{in: "/", want: "/api/v1"},
		{in: "api/v2/", want: "/api/v2"},
		{in: " //custom// ", want: "/custom"},
	}
	for _, tc := range cases {
		if got := normalizeEndpoint(tc.in, "/api/v1"); got != tc.want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestRunStopsOnCancel verifies Run returns cleanly once its context is canceled.
func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, newTestDependencies(t)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

// TestRunReportsBindFailure verifies an occupied address fails before serving.
func TestRunReportsBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer func() { _ = busy.Close() }()

	err = Run(context.Background(), Config{HTTPBind: busy.Addr().String()}, newTestDependencies(t))
	if err == nil || !strings.Contains(err.Error(), "listen on") {
		t.Fatalf("Run() error = %v, want listen failure", err)
	}
}
