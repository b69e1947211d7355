// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/ticketflow/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	workflows common.WorkflowService
	tickets   common.TicketService
	backfill  common.BackfillService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter. Backfill routes are enabled when
// either service also implements common.BackfillService.
func NewHandler(workflows common.WorkflowService, tickets common.TicketService) *Handler {
	return &Handler{
		workflows: workflows,
		tickets:   tickets,
		backfill:  pickBackfillService(workflows, tickets),
	}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 {
		writeNotFound(w)
		return
	}
	switch parts[0] {
	case "workflows":
		h.routeWorkflows(w, r, parts[1:])
	case "buckets":
		if len(parts) != 1 {
			writeNotFound(w)
			return
		}
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleStatusBuckets(w, r, "")
	case "tickets":
		h.routeTickets(w, r, parts[1:])
	case "tenants":
		if len(parts) != 3 || parts[2] != "backfill" {
			writeNotFound(w)
			return
		}
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleBackfill(w, r, parts[1])
	default:
		writeNotFound(w)
	}
}

// routeWorkflows dispatches `/workflows/...` routes.
func (h *Handler) routeWorkflows(w http.ResponseWriter, r *http.Request, rest []string) {
	if h.workflows == nil {
		writeUnavailable(w, "workflow service is not configured")
		return
	}
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			h.handleListWorkflows(w, r)
		case http.MethodPost:
			h.handleCreateWorkflow(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(rest) == 1 && rest[0] == "active":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleActiveWorkflow(w, r)
	case len(rest) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetWorkflow(w, r, rest[0])
		case http.MethodDelete:
			h.handleDeleteWorkflow(w, r, rest[0])
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case len(rest) == 2 && rest[1] == "graph":
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w, http.MethodPut)
			return
		}
		h.handleEditWorkflow(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "activate":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleActivateWorkflow(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "archive":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleArchiveWorkflow(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "versions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListWorkflowVersions(w, r, rest[0])
	case len(rest) == 3 && rest[1] == "versions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetWorkflowVersion(w, r, rest[0], rest[2])
	case len(rest) == 2 && rest[1] == "buckets":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleStatusBuckets(w, r, rest[0])
	default:
		writeNotFound(w)
	}
}

// routeTickets dispatches `/tickets/...` routes.
func (h *Handler) routeTickets(w http.ResponseWriter, r *http.Request, rest []string) {
	if h.tickets == nil {
		writeUnavailable(w, "ticket service is not configured")
		return
	}
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleCreateTicket(w, r)
	case len(rest) == 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetTicket(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "transitions":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleAvailableTransitions(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "check":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleCheckTransition(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "transition":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleTransitionTicket(w, r, rest[0])
	case len(rest) == 2 && rest[1] == "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleTicketEvents(w, r, rest[0])
	default:
		writeNotFound(w)
	}
}

// handleListWorkflows serves GET `/workflows`.
func (h *Handler) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.workflows.ListWorkflows(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": rows,
	})
}

// handleCreateWorkflow serves POST `/workflows`.
func (h *Handler) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req common.CreateWorkflowRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	wf, err := h.workflows.CreateWorkflow(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// handleActiveWorkflow serves GET `/workflows/active`.
func (h *Handler) handleActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.GetActiveWorkflow(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleGetWorkflow serves GET `/workflows/{id}`.
func (h *Handler) handleGetWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	wf, err := h.workflows.GetWorkflow(r.Context(), r.URL.Query().Get("tenant_id"), workflowID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleEditWorkflow serves PUT `/workflows/{id}/graph`.
func (h *Handler) handleEditWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	var req common.EditWorkflowRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.WorkflowID = workflowID
	if strings.TrimSpace(req.TenantID) == "" {
		req.TenantID = r.URL.Query().Get("tenant_id")
	}
	wf, err := h.workflows.EditWorkflow(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleActivateWorkflow serves POST `/workflows/{id}/activate`.
func (h *Handler) handleActivateWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	tenantID, err := tenantFromBodyOrQuery(w, r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	wf, err := h.workflows.ActivateWorkflow(r.Context(), tenantID, workflowID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleArchiveWorkflow serves POST `/workflows/{id}/archive`.
func (h *Handler) handleArchiveWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	tenantID, err := tenantFromBodyOrQuery(w, r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	wf, err := h.workflows.ArchiveWorkflow(r.Context(), tenantID, workflowID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleDeleteWorkflow serves DELETE `/workflows/{id}`.
func (h *Handler) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	if err := h.workflows.DeleteWorkflow(r.Context(), r.URL.Query().Get("tenant_id"), workflowID); err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListWorkflowVersions serves GET `/workflows/{id}/versions`.
func (h *Handler) handleListWorkflowVersions(w http.ResponseWriter, r *http.Request, workflowID string) {
	rows, err := h.workflows.ListWorkflowVersions(r.Context(), r.URL.Query().Get("tenant_id"), workflowID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": rows,
	})
}

// handleGetWorkflowVersion serves GET `/workflows/{id}/versions/{n}`.
func (h *Handler) handleGetWorkflowVersion(w http.ResponseWriter, r *http.Request, workflowID, rawVersion string) {
	version, err := strconv.Atoi(rawVersion)
	if err != nil || version < 1 {
		writeErrorFrom(w, fmt.Errorf("version %q must be a positive integer: %w", rawVersion, common.ErrInvalidRequest))
		return
	}
	wf, err := h.workflows.GetWorkflowVersion(r.Context(), r.URL.Query().Get("tenant_id"), workflowID, version)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// tenantFromBodyOrQuery reads tenant_id from an optional JSON body, falling back to the query string.
func tenantFromBodyOrQuery(w http.ResponseWriter, r *http.Request) (string, error) {
	var payload struct {
		TenantID string `json:"tenant_id"`
	}
	if err := decodeOptionalJSONBody(r.Context(), w, r, &payload); err != nil {
		return "", err
	}
	if tenantID := strings.TrimSpace(payload.TenantID); tenantID != "" {
		return tenantID, nil
	}
	return r.URL.Query().Get("tenant_id"), nil
}

// handleStatusBuckets serves GET `/buckets` and `/workflows/{id}/buckets`.
func (h *Handler) handleStatusBuckets(w http.ResponseWriter, r *http.Request, workflowID string) {
	if h.workflows == nil {
		writeUnavailable(w, "workflow service is not configured")
		return
	}
	buckets, err := h.workflows.StatusBuckets(r.Context(), r.URL.Query().Get("tenant_id"), workflowID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// handleCreateTicket serves POST `/tickets`.
func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req common.CreateTicketRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	ticket, err := h.tickets.CreateTicket(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// handleGetTicket serves GET `/tickets/{id}`.
func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.tickets.GetTicket(r.Context(), ticketID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleAvailableTransitions serves GET `/tickets/{id}/transitions`.
func (h *Handler) handleAvailableTransitions(w http.ResponseWriter, r *http.Request, ticketID string) {
	actor := common.Actor{
		ID:    strings.TrimSpace(r.URL.Query().Get("actor_id")),
		Roles: splitCSV(r.URL.Query().Get("roles")),
	}
	decisions, err := h.tickets.AvailableTransitions(r.Context(), ticketID, actor)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": decisions,
	})
}

// handleCheckTransition serves POST `/tickets/{id}/check`. Denials are 200 responses.
func (h *Handler) handleCheckTransition(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TicketID = ticketID
	decision, err := h.tickets.CheckTransition(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleTransitionTicket serves POST `/tickets/{id}/transition`.
func (h *Handler) handleTransitionTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req common.TransitionRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TicketID = ticketID
	result, err := h.tickets.TransitionTicket(r.Context(), req)
	if err != nil {
		if result.Decision.Reason != "" {
			writeDeniedTransition(w, err, result.Decision)
			return
		}
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTicketEvents serves GET `/tickets/{id}/events`. A missing limit uses the service default.
func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorFrom(w, fmt.Errorf("limit %q must be a positive integer: %w", raw, common.ErrInvalidRequest))
			return
		}
		limit = n
	}
	events, err := h.tickets.ListTicketEvents(r.Context(), ticketID, limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
	})
}

// handleBackfill serves POST `/tenants/{id}/backfill`.
func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request, tenantID string) {
	if h.backfill == nil {
		writeJSONError(w, http.StatusNotImplemented, APIError{
			Code:    "not_implemented",
			Message: "backfill is not available",
		})
		return
	}
	res, err := h.backfill.BackfillTenant(r.Context(), tenantID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
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

// splitPath canonicalizes one request path into route segments.
func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil
		}
	}
	return parts
}

// splitCSV splits a comma-separated query value and drops blanks.
func splitCSV(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeDeniedTransition writes a refused transition with its decision attached.
func writeDeniedTransition(w http.ResponseWriter, err error, decision common.Decision) {
	status, code := statusForError(err)
	writeJSONError(w, status, APIError{
		Code:    code,
		Message: err.Error(),
		Context: map[string]any{
			"reason":   decision.Reason,
			"decision": decision,
		},
	})
}

// statusForError maps adapter errors onto HTTP status codes and error codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrTransitionDenied):
		return http.StatusConflict, "transition_denied"
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, common.ErrNoWorkflow):
		return http.StatusConflict, "no_workflow"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
		return
	}
	status, code := statusForError(err)
	apiErr := APIError{Code: code, Message: err.Error()}
	if code == "no_workflow" {
		apiErr.Hint = "Activate a workflow for the tenant or seed its system default."
	}
	writeJSONError(w, status, apiErr)
}

// writeNotFound writes the structured unknown-endpoint response.
func writeNotFound(w http.ResponseWriter) {
	writeJSONError(w, http.StatusNotFound, APIError{
		Code:    "not_found",
		Message: "endpoint not found",
	})
}

// writeUnavailable writes a structured 503 for unconfigured services.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: message,
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
