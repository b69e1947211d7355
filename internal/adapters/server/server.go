// Package server composes HTTP API and MCP transports into one process handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hylla/ticketflow/internal/adapters/server/common"
	"github.com/hylla/ticketflow/internal/adapters/server/httpapi"
	"github.com/hylla/ticketflow/internal/adapters/server/mcpapi"
)

// defaultBindAddress defines the localhost-first serve default.
const defaultBindAddress = "127.0.0.1:8080"

const (
	defaultShutdownTimeout   = 5 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Config defines serve-mode endpoint configuration.
type Config struct {
	HTTPBind      string
	APIEndpoint   string
	MCPEndpoint   string
	ServerName    string
	ServerVersion string
}

// Dependencies defines app-facing adapters required by server transports.
type Dependencies struct {
	Workflows common.WorkflowService
	Tickets   common.TicketService
	// Ready reports storage readiness for `/readyz`. Nil means always ready.
	Ready func(context.Context) error
}

// NewHandler composes one root HTTP mux containing health, REST API, and MCP endpoints.
func NewHandler(cfg Config, deps Dependencies) (http.Handler, Config, error) {
	normalizedCfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, Config{}, err
	}
	if deps.Workflows == nil || deps.Tickets == nil {
		return nil, Config{}, fmt.Errorf("workflow and ticket dependencies are required")
	}

	mcpHandler, err := mcpapi.NewHandler(
		mcpapi.Config{
			ServerName:    normalizedCfg.ServerName,
			ServerVersion: normalizedCfg.ServerVersion,
			EndpointPath:  normalizedCfg.MCPEndpoint,
		},
		deps.Workflows,
		deps.Tickets,
	)
	if err != nil {
		return nil, Config{}, fmt.Errorf("configure mcp handler: %w", err)
	}
	apiHandler := httpapi.NewHandler(deps.Workflows, deps.Tickets)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", writeHealthStatus)
	mux.HandleFunc("/readyz", readinessHandler(deps.Ready))
	mux.Handle(normalizedCfg.MCPEndpoint, mcpHandler)
	mountUnder(mux, normalizedCfg.APIEndpoint, apiHandler)
	return mux, normalizedCfg, nil
}

// Run binds the listener, serves until ctx ends, then drains in-flight requests.
// Bind failures are returned before any request is served.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if ctx == nil {
		ctx = context.Background()
	}
	handler, normalizedCfg, err := NewHandler(cfg, deps)
	if err != nil {
		return fmt.Errorf("build server handler: %w", err)
	}
	listener, err := net.Listen("tcp", normalizedCfg.HTTPBind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", normalizedCfg.HTTPBind, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
		return drain(srv, served)
	}
}

// drain shuts srv down within defaultShutdownTimeout and collects the serve result.
func drain(srv *http.Server, served <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		_ = srv.Close()
		<-served
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve after shutdown: %w", err)
	}
	return nil
}

// normalizeConfig fills serve defaults and rejects an API prefix that shadows the MCP path.
func normalizeConfig(cfg Config) (Config, error) {
	cfg.HTTPBind = valueOr(cfg.HTTPBind, defaultBindAddress)
	cfg.APIEndpoint = normalizeEndpoint(cfg.APIEndpoint, "/api/v1")
	cfg.MCPEndpoint = normalizeEndpoint(cfg.MCPEndpoint, "/mcp")
	if cfg.APIEndpoint == cfg.MCPEndpoint {
		return Config{}, fmt.Errorf("api endpoint %q and mcp endpoint must differ", cfg.APIEndpoint)
	}
	cfg.ServerName = valueOr(cfg.ServerName, "ticketflow")
	cfg.ServerVersion = valueOr(cfg.ServerVersion, "dev")
	return cfg, nil
}

// normalizeEndpoint cleans an endpoint into a rooted path without a trailing slash.
// Blank input and the bare root fall back to fallback.
func normalizeEndpoint(raw string, fallback string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(raw))
	if cleaned == "/" {
		return fallback
	}
	return cleaned
}

func valueOr(raw, fallback string) string {
	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return fallback
}

// mountUnder serves h at prefix and below it with the prefix stripped.
func mountUnder(mux *http.ServeMux, prefix string, h http.Handler) {
	stripped := http.StripPrefix(prefix, h)
	mux.Handle(prefix, stripped)
	mux.Handle(prefix+"/", stripped)
}

// writeHealthStatus responds with a deterministic readiness payload.
func writeHealthStatus(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, "ok")
}

// readinessHandler reports 503 while the storage ping fails.
func readinessHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeHealth(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		writeHealth(w, http.StatusOK, "ok")
	}
}

func writeHealth(w http.ResponseWriter, status int, state string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"status\":%q}\n", state)
}
