// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/ticketflow/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter with workflow, ticket, and optional backfill tools.
func NewHandler(cfg Config, workflows common.WorkflowService, tickets common.TicketService) (*Handler, error) {
	if workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if tickets == nil {
		return nil, fmt.Errorf("ticket service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerWorkflowTools(mcpSrv, workflows)
	registerTicketTools(mcpSrv, tickets)
	registerBackfillTool(mcpSrv, pickBackfillService(workflows, tickets))

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "ticketflow"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerWorkflowTools registers workflow lookup and bucket tools.
func registerWorkflowTools(srv *mcpserver.MCPServer, workflows common.WorkflowService) {
	srv.AddTool(
		mcp.NewTool(
			"ticketflow.get_active_workflow",
			mcp.WithDescription("Return the tenant's active workflow, falling back to its system default."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			wf, err := workflows.GetActiveWorkflow(ctx, tenantID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(wf)
			if err != nil {
				return nil, fmt.Errorf("encode get_active_workflow result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ticketflow.status_buckets",
			mcp.WithDescription("Return working and done status lists. Without workflow_id, counts are included for the live workflow."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("workflow_id", mcp.Description("Optional workflow identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			buckets, err := workflows.StatusBuckets(ctx, tenantID, req.GetString("workflow_id", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(buckets)
			if err != nil {
				return nil, fmt.Errorf("encode status_buckets result: %w", err)
			}
			return result, nil
		},
	)
}

// registerTicketTools registers ticket creation and transition tools.
func registerTicketTools(srv *mcpserver.MCPServer, tickets common.TicketService) {
	srv.AddTool(
		mcp.NewTool(
			"ticketflow.create_ticket",
			mcp.WithDescription("Create one ticket through the workflow's create transition."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Ticket title")),
			mcp.WithString("description", mcp.Description("Optional description")),
			mcp.WithString("priority", mcp.Description("Ticket priority"), mcp.Enum("low", "medium", "high")),
			mcp.WithString("assignee_id", mcp.Description("Optional assignee")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithArray("roles", mcp.Description("Acting user roles"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			title, err := req.RequireString("title")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actor, err := actorFromRequest(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			ticket, err := tickets.CreateTicket(ctx, common.CreateTicketRequest{
				TenantID:    tenantID,
				Title:       title,
				Description: req.GetString("description", ""),
				Priority:    req.GetString("priority", ""),
				AssigneeID:  req.GetString("assignee_id", ""),
				Actor:       actor,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(ticket)
			if err != nil {
				return nil, fmt.Errorf("encode create_ticket result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ticketflow.can_transition",
			mcp.WithDescription("Check whether an actor may move a ticket to a target status. Denials are returned as decisions, not errors."),
			mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket identifier")),
			mcp.WithString("target_status", mcp.Required(), mcp.Description("Target status id, label, or composite reference")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithArray("roles", mcp.Description("Acting user roles"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			transition, err := transitionFromRequest(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			decision, err := tickets.CheckTransition(ctx, transition)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(decision)
			if err != nil {
				return nil, fmt.Errorf("encode can_transition result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ticketflow.available_transitions",
			mcp.WithDescription("List every outgoing transition of a ticket with its decision for the actor."),
			mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket identifier")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithArray("roles", mcp.Description("Acting user roles"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ticketID, err := req.RequireString("ticket_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			actor, err := actorFromRequest(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			decisions, err := tickets.AvailableTransitions(ctx, ticketID, actor)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"transitions": decisions,
			})
			if err != nil {
				return nil, fmt.Errorf("encode available_transitions result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ticketflow.transition_ticket",
			mcp.WithDescription("Validate and apply one status transition, then run the edge's actions."),
			mcp.WithString("ticket_id", mcp.Required(), mcp.Description("Ticket identifier")),
			mcp.WithString("target_status", mcp.Required(), mcp.Description("Target status id, label, or composite reference")),
			mcp.WithString("actor_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithArray("roles", mcp.Description("Acting user roles"), mcp.WithStringItems()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			transition, err := transitionFromRequest(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			moved, err := tickets.TransitionTicket(ctx, transition)
			if err != nil {
				if moved.Decision.Reason != "" {
					return toolResultFromError(fmt.Errorf("%w (reason=%s)", err, moved.Decision.Reason)), nil
				}
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(moved)
			if err != nil {
				return nil, fmt.Errorf("encode transition_ticket result: %w", err)
			}
			return result, nil
		},
	)
}

// registerBackfillTool registers the snapshot backfill tool when a provider is available.
func registerBackfillTool(srv *mcpserver.MCPServer, backfill common.BackfillService) {
	if backfill == nil {
		return
	}
	srv.AddTool(
		mcp.NewTool(
			"ticketflow.backfill_snapshots",
			mcp.WithDescription("Attach workflow snapshots to the tenant's tickets that have none."),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tenantID, err := req.RequireString("tenant_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := backfill.BackfillTenant(ctx, tenantID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(res)
			if err != nil {
				return nil, fmt.Errorf("encode backfill_snapshots result: %w", err)
			}
			return result, nil
		},
	)
}

// actorFromRequest reads the acting user fields shared by ticket tools.
func actorFromRequest(req mcp.CallToolRequest) (common.Actor, error) {
	actorID, err := req.RequireString("actor_id")
	if err != nil {
		return common.Actor{}, err
	}
	return common.Actor{
		ID:    actorID,
		Roles: req.GetStringSlice("roles", nil),
	}, nil
}

// transitionFromRequest reads one transition request from tool arguments.
func transitionFromRequest(req mcp.CallToolRequest) (common.TransitionRequest, error) {
	ticketID, err := req.RequireString("ticket_id")
	if err != nil {
		return common.TransitionRequest{}, err
	}
	target, err := req.RequireString("target_status")
	if err != nil {
		return common.TransitionRequest{}, err
	}
	actor, err := actorFromRequest(req)
	if err != nil {
		return common.TransitionRequest{}, err
	}
	return common.TransitionRequest{
		TicketID:     ticketID,
		TargetStatus: target,
		Actor:        actor,
	}, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrForbidden):
		return mcp.NewToolResultError("forbidden: " + err.Error())
	case errors.Is(err, common.ErrTransitionDenied):
		return mcp.NewToolResultError("transition_denied: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	case errors.Is(err, common.ErrNoWorkflow):
		return mcp.NewToolResultError("no_workflow: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}

// pickBackfillService resolves one backfill provider from available services.
func pickBackfillService(workflows common.WorkflowService, tickets common.TicketService) common.BackfillService {
	if svc, ok := workflows.(common.BackfillService); ok {
		return svc
	}
	if svc, ok := tickets.(common.BackfillService); ok {
		return svc
	}
	return nil
}
