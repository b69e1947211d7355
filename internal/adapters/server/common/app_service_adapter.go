package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/ticketflow/internal/app"
	"github.com/hylla/ticketflow/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service workflow and ticket APIs.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListWorkflows lists a tenant's workflows at their current versions.
func (a *AppServiceAdapter) ListWorkflows(ctx context.Context, tenantID string) ([]Workflow, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return nil, err
	}
	defs, err := a.service.ListWorkflows(ctx, tenantID)
	if err != nil {
		return nil, mapAppError("list workflows", err)
	}
	out := make([]Workflow, 0, len(defs))
	for _, def := range defs {
		out = append(out, mapWorkflow(def))
	}
	return out, nil
}

// CreateWorkflow creates one DRAFT workflow.
func (a *AppServiceAdapter) CreateWorkflow(ctx context.Context, in CreateWorkflowRequest) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	def, err := a.service.CreateWorkflow(ctx, app.CreateWorkflowInput{
		TenantID:        in.TenantID,
		Name:            in.Name,
		IsDefault:       in.IsDefault,
		Graph:           in.Definition,
		WorkingStatuses: in.WorkingStatuses,
		DoneStatuses:    in.DoneStatuses,
	})
	if err != nil {
		return Workflow{}, mapAppError("create workflow", err)
	}
	return mapWorkflow(def), nil
}

// GetActiveWorkflow returns the tenant's ACTIVE workflow, else its system default.
func (a *AppServiceAdapter) GetActiveWorkflow(ctx context.Context, tenantID string) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return Workflow{}, err
	}
	def, err := a.service.LiveWorkflow(ctx, tenantID)
	if err != nil {
		return Workflow{}, mapAppError("get active workflow", err)
	}
	return mapWorkflow(def), nil
}

// GetWorkflow returns one workflow at its current version.
func (a *AppServiceAdapter) GetWorkflow(ctx context.Context, tenantID, workflowID string) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return Workflow{}, err
	}
	def, err := a.service.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return Workflow{}, mapAppError("get workflow", err)
	}
	return mapWorkflow(def), nil
}

// EditWorkflow saves an edited graph as the workflow's next version.
func (a *AppServiceAdapter) EditWorkflow(ctx context.Context, in EditWorkflowRequest) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, err := requireField("tenant_id", in.TenantID)
	if err != nil {
		return Workflow{}, err
	}
	def, err := a.service.SaveWorkflowEdit(ctx, tenantID, in.WorkflowID, domain.WorkflowEdit{
		Name:            in.Name,
		Graph:           in.Definition,
		WorkingStatuses: in.WorkingStatuses,
		DoneStatuses:    in.DoneStatuses,
	})
	if err != nil {
		return Workflow{}, mapAppError("edit workflow", err)
	}
	return mapWorkflow(def), nil
}

// ActivateWorkflow makes one workflow the tenant's ACTIVE workflow.
func (a *AppServiceAdapter) ActivateWorkflow(ctx context.Context, tenantID, workflowID string) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return Workflow{}, err
	}
	def, err := a.service.ActivateWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return Workflow{}, mapAppError("activate workflow", err)
	}
	return mapWorkflow(def), nil
}

// ArchiveWorkflow retires one workflow and returns it in ARCHIVED status.
func (a *AppServiceAdapter) ArchiveWorkflow(ctx context.Context, tenantID, workflowID string) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, workflowID, err := requireWorkflowRef(tenantID, workflowID)
	if err != nil {
		return Workflow{}, err
	}
	if err := a.service.ArchiveWorkflow(ctx, tenantID, workflowID); err != nil {
		return Workflow{}, mapAppError("archive workflow", err)
	}
	def, err := a.service.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return Workflow{}, mapAppError("get workflow", err)
	}
	return mapWorkflow(def), nil
}

// DeleteWorkflow hard-deletes one workflow no ticket references.
func (a *AppServiceAdapter) DeleteWorkflow(ctx context.Context, tenantID, workflowID string) error {
	if err := a.ready(); err != nil {
		return err
	}
	tenantID, workflowID, err := requireWorkflowRef(tenantID, workflowID)
	if err != nil {
		return err
	}
	if err := a.service.DeleteWorkflow(ctx, tenantID, workflowID); err != nil {
		return mapAppError("delete workflow", err)
	}
	return nil
}

// ListWorkflowVersions lists every retained version of one workflow, oldest first.
func (a *AppServiceAdapter) ListWorkflowVersions(ctx context.Context, tenantID, workflowID string) ([]Workflow, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	tenantID, workflowID, err := requireWorkflowRef(tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	defs, err := a.service.ListWorkflowVersions(ctx, tenantID, workflowID)
	if err != nil {
		return nil, mapAppError("list workflow versions", err)
	}
	if len(defs) == 0 {
		return nil, mapAppError("list workflow versions", app.ErrNotFound)
	}
	out := make([]Workflow, 0, len(defs))
	for _, def := range defs {
		out = append(out, mapWorkflow(def))
	}
	return out, nil
}

// GetWorkflowVersion returns one retained version of a workflow.
func (a *AppServiceAdapter) GetWorkflowVersion(ctx context.Context, tenantID, workflowID string, version int) (Workflow, error) {
	if err := a.ready(); err != nil {
		return Workflow{}, err
	}
	tenantID, workflowID, err := requireWorkflowRef(tenantID, workflowID)
	if err != nil {
		return Workflow{}, err
	}
	if version < 1 {
		return Workflow{}, fmt.Errorf("version must be positive: %w", ErrInvalidRequest)
	}
	def, err := a.service.GetWorkflowVersion(ctx, tenantID, workflowID, version)
	if err != nil {
		return Workflow{}, mapAppError("get workflow version", err)
	}
	return mapWorkflow(def), nil
}

// StatusBuckets bucketizes one workflow. An empty workflowID selects the tenant's
// live workflow and adds ticket counts.
func (a *AppServiceAdapter) StatusBuckets(ctx context.Context, tenantID, workflowID string) (StatusBuckets, error) {
	if err := a.ready(); err != nil {
		return StatusBuckets{}, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return StatusBuckets{}, err
	}
	if strings.TrimSpace(workflowID) != "" {
		buckets, err := a.service.WorkflowBuckets(ctx, tenantID, workflowID)
		if err != nil {
			return StatusBuckets{}, mapAppError("status buckets", err)
		}
		return mapBuckets(tenantID, buckets), nil
	}
	buckets, err := a.service.StatusBuckets(ctx, tenantID)
	if err != nil {
		return StatusBuckets{}, mapAppError("status buckets", err)
	}
	counts, err := a.service.BucketCounts(ctx, tenantID)
	if err != nil {
		return StatusBuckets{}, mapAppError("bucket counts", err)
	}
	out := mapBuckets(tenantID, buckets)
	out.Counts = &BucketCounts{
		Working: counts.Working,
		Done:    counts.Done,
		OnHold:  counts.OnHold,
		Total:   counts.Total,
	}
	return out, nil
}

// CreateTicket creates one ticket through the live workflow's create transition.
func (a *AppServiceAdapter) CreateTicket(ctx context.Context, in CreateTicketRequest) (Ticket, error) {
	if err := a.ready(); err != nil {
		return Ticket{}, err
	}
	tenantID, err := requireField("tenant_id", in.TenantID)
	if err != nil {
		return Ticket{}, err
	}
	// First contact from a tenant seeds its system-default workflow.
	if _, err := a.service.EnsureSystemDefaultWorkflow(ctx, tenantID); err != nil {
		return Ticket{}, mapAppError("bootstrap tenant workflow", err)
	}
	ticket, err := a.service.CreateTicket(ctx, app.CreateTicketInput{
		TenantID:    tenantID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    domain.Priority(strings.ToLower(strings.TrimSpace(in.Priority))),
		AssigneeID:  in.AssigneeID,
		Actor:       toAppActor(in.Actor),
	})
	if err != nil {
		return Ticket{}, mapAppError("create ticket", err)
	}
	return mapTicket(ticket), nil
}

// GetTicket returns one ticket.
func (a *AppServiceAdapter) GetTicket(ctx context.Context, ticketID string) (Ticket, error) {
	if err := a.ready(); err != nil {
		return Ticket{}, err
	}
	ticketID, err := requireField("ticket_id", ticketID)
	if err != nil {
		return Ticket{}, err
	}
	ticket, err := a.service.GetTicket(ctx, ticketID)
	if err != nil {
		return Ticket{}, mapAppError("get ticket", err)
	}
	return mapTicket(ticket), nil
}

// AvailableTransitions evaluates every transition leaving the ticket's status.
func (a *AppServiceAdapter) AvailableTransitions(ctx context.Context, ticketID string, actor Actor) ([]Decision, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	ticketID, err := requireField("ticket_id", ticketID)
	if err != nil {
		return nil, err
	}
	decisions, err := a.service.AvailableTransitions(ctx, ticketID, toAppActor(actor))
	if err != nil {
		return nil, mapAppError("available transitions", err)
	}
	out := make([]Decision, 0, len(decisions))
	for _, decision := range decisions {
		out = append(out, mapDecision(decision))
	}
	return out, nil
}

// CheckTransition reports whether the actor may move the ticket. Denials are not errors.
func (a *AppServiceAdapter) CheckTransition(ctx context.Context, in TransitionRequest) (Decision, error) {
	if err := a.ready(); err != nil {
		return Decision{}, err
	}
	ticketID, target, err := normalizeTransitionRequest(in)
	if err != nil {
		return Decision{}, err
	}
	decision, err := a.service.CheckTransition(ctx, ticketID, target, toAppActor(in.Actor))
	if err != nil {
		return Decision{}, mapAppError("check transition", err)
	}
	return mapDecision(decision), nil
}

// TransitionTicket applies one status change. Denials return the decision with a mapped error.
func (a *AppServiceAdapter) TransitionTicket(ctx context.Context, in TransitionRequest) (TransitionResult, error) {
	if err := a.ready(); err != nil {
		return TransitionResult{}, err
	}
	ticketID, target, err := normalizeTransitionRequest(in)
	if err != nil {
		return TransitionResult{}, err
	}
	ticket, decision, err := a.service.TransitionTicket(ctx, app.TransitionTicketInput{
		TicketID:     ticketID,
		TargetStatus: target,
		Actor:        toAppActor(in.Actor),
	})
	result := TransitionResult{Ticket: mapTicket(ticket), Decision: mapDecision(decision)}
	if err != nil {
		return result, mapAppError("transition ticket", err)
	}
	return result, nil
}

// ListTicketEvents returns a ticket's history, newest first.
func (a *AppServiceAdapter) ListTicketEvents(ctx context.Context, ticketID string, limit int) ([]TicketEvent, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	ticketID, err := requireField("ticket_id", ticketID)
	if err != nil {
		return nil, err
	}
	if _, err := a.service.GetTicket(ctx, ticketID); err != nil {
		return nil, mapAppError("get ticket", err)
	}
	events, err := a.service.ListTicketEvents(ctx, ticketID, limit)
	if err != nil {
		return nil, mapAppError("list ticket events", err)
	}
	out := make([]TicketEvent, 0, len(events))
	for _, event := range events {
		out = append(out, mapTicketEvent(event))
	}
	return out, nil
}

// BackfillTenant assigns snapshots to a tenant's tickets that have none.
func (a *AppServiceAdapter) BackfillTenant(ctx context.Context, tenantID string) (BackfillResult, error) {
	if err := a.ready(); err != nil {
		return BackfillResult{}, err
	}
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return BackfillResult{}, err
	}
	res, err := a.service.BackfillMissingSnapshots(ctx, tenantID)
	if err != nil {
		return BackfillResult{}, mapAppError("backfill snapshots", err)
	}
	return BackfillResult{
		TenantID:   res.TenantID,
		Scanned:    res.Scanned,
		Backfilled: res.Backfilled,
		Skipped:    res.Skipped,
	}, nil
}

// ready reports whether the adapter has a backing service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	return nil
}

// requireField trims one required value and rejects blanks.
func requireField(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s is required: %w", name, ErrInvalidRequest)
	}
	return value, nil
}

// requireWorkflowRef trims and requires a tenant and workflow id pair.
func requireWorkflowRef(tenantID, workflowID string) (string, string, error) {
	tenantID, err := requireField("tenant_id", tenantID)
	if err != nil {
		return "", "", err
	}
	workflowID, err = requireField("workflow_id", workflowID)
	if err != nil {
		return "", "", err
	}
	return tenantID, workflowID, nil
}

// normalizeTransitionRequest validates the ticket id and target status.
func normalizeTransitionRequest(in TransitionRequest) (string, string, error) {
	ticketID, err := requireField("ticket_id", in.TicketID)
	if err != nil {
		return "", "", err
	}
	target, err := requireField("target_status", in.TargetStatus)
	if err != nil {
		return "", "", err
	}
	return ticketID, target, nil
}

// toAppActor trims the actor identity and drops blank roles.
func toAppActor(in Actor) app.Actor {
	roles := make([]string, 0, len(in.Roles))
	for _, role := range in.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return app.Actor{ID: strings.TrimSpace(in.ID), Roles: roles}
}

// mapWorkflow converts one domain workflow to its transport view.
func mapWorkflow(def domain.WorkflowDefinition) Workflow {
	return Workflow{
		ID:              def.ID,
		TenantID:        def.TenantID,
		Name:            def.Name,
		Version:         def.Version,
		Status:          string(def.Status),
		IsActive:        def.IsActive(),
		IsDefault:       def.IsDefault,
		IsSystemDefault: def.IsSystemDefault,
		Definition:      def.Graph,
		WorkingStatuses: nonNilStrings(def.WorkingStatuses),
		DoneStatuses:    nonNilStrings(def.DoneStatuses),
		CreatedAt:       def.CreatedAt,
		UpdatedAt:       def.UpdatedAt,
	}
}

// mapTicket converts one domain ticket to its transport view.
func mapTicket(t domain.Ticket) Ticket {
	return Ticket{
		ID:              t.ID,
		TenantID:        t.TenantID,
		Title:           t.Title,
		Description:     t.Description,
		Priority:        string(t.Priority),
		AssigneeID:      t.AssigneeID,
		Status:          t.Status,
		WorkflowID:      t.WorkflowID,
		WorkflowVersion: t.WorkflowVersion,
		HasSnapshot:     t.WorkflowSnapshot != nil,
		CreatedBy:       t.CreatedBy,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// mapTicketEvent converts one domain ticket event to its transport view.
func mapTicketEvent(e domain.TicketEvent) TicketEvent {
	return TicketEvent{
		ID:              e.ID,
		TicketID:        e.TicketID,
		Kind:            string(e.Kind),
		ActorID:         e.ActorID,
		FromStatus:      e.FromStatus,
		ToStatus:        e.ToStatus,
		EdgeID:          e.EdgeID,
		WorkflowID:      e.WorkflowID,
		WorkflowVersion: e.WorkflowVersion,
		Metadata:        e.Metadata,
		OccurredAt:      e.OccurredAt,
	}
}

// mapDecision converts one domain transition decision to its transport view.
func mapDecision(d domain.TransitionDecision) Decision {
	return Decision{
		Allowed:    d.Allowed,
		Reason:     string(d.Reason),
		Message:    d.Message,
		From:       d.From.ID,
		To:         d.To.ID,
		ToLabel:    d.To.Label,
		EdgeID:     d.Edge.ID,
		EdgeLabel:  d.Edge.Label,
		WorkflowID: d.WorkflowID,
		Version:    d.Version,
	}
}

// mapBuckets converts bucketized status lists to their transport view.
func mapBuckets(tenantID string, b domain.StatusBuckets) StatusBuckets {
	return StatusBuckets{
		TenantID:          tenantID,
		WorkflowID:        b.WorkflowID,
		WorkingByWorkflow: b.WorkingByWorkflow,
		DoneByWorkflow:    b.DoneByWorkflow,
		Malformed:         b.Malformed,
	}
}

// nonNilStrings keeps JSON arrays from encoding as null.
func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// mapAppError maps app and domain errors onto transport-level sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrNoWorkflow):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNoWorkflow, err))
	case errors.Is(err, domain.ErrRoleNotPermitted),
		errors.Is(err, app.ErrCreateNotPermitted):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrForbidden, err))
	case errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrNoSuchTransition),
		errors.Is(err, domain.ErrConditionNotMet):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrTransitionDenied, err))
	case errors.Is(err, app.ErrSystemDefaultImmutable),
		errors.Is(err, app.ErrWorkflowActive),
		errors.Is(err, app.ErrWorkflowArchived),
		errors.Is(err, app.ErrWorkflowInUse),
		errors.Is(err, app.ErrStatusChanged),
		errors.Is(err, app.ErrVersionConflict),
		errors.Is(err, domain.ErrSnapshotAlreadySet):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidTitle),
		errors.Is(err, domain.ErrInvalidTenantID),
		errors.Is(err, domain.ErrInvalidWorkflowStatus),
		errors.Is(err, domain.ErrInvalidGraph),
		errors.Is(err, domain.ErrInvalidStatus):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
