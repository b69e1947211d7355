// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports lifecycle rules that block a workflow change.
var ErrConflict = errors.New("conflict")

// ErrForbidden reports role checks that refused the actor.
var ErrForbidden = errors.New("forbidden")

// ErrTransitionDenied reports transitions refused by graph shape, status resolution, or conditions.
var ErrTransitionDenied = errors.New("transition denied")

// ErrNoWorkflow reports a tenant with no workflow to validate against.
var ErrNoWorkflow = errors.New("no workflow configured")

// Actor identifies the caller of a ticket operation.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// Workflow is the transport view of one workflow version.
type Workflow struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	Name            string       `json:"name"`
	Version         int          `json:"version"`
	Status          string       `json:"status"`
	IsActive        bool         `json:"is_active"`
	IsDefault       bool         `json:"is_default"`
	IsSystemDefault bool         `json:"is_system_default"`
	Definition      domain.Graph `json:"definition"`
	WorkingStatuses []string     `json:"working_statuses"`
	DoneStatuses    []string     `json:"done_statuses"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// CreateWorkflowRequest captures input for a new DRAFT workflow.
type CreateWorkflowRequest struct {
	TenantID        string       `json:"tenant_id"`
	Name            string       `json:"name"`
	IsDefault       bool         `json:"is_default,omitempty"`
	Definition      domain.Graph `json:"definition"`
	WorkingStatuses []string     `json:"working_statuses,omitempty"`
	DoneStatuses    []string     `json:"done_statuses,omitempty"`
}

// EditWorkflowRequest captures input for saving a new workflow version.
// Nil status lists keep the previous version's lists.
type EditWorkflowRequest struct {
	TenantID        string       `json:"tenant_id"`
	WorkflowID      string       `json:"-"`
	Name            string       `json:"name,omitempty"`
	Definition      domain.Graph `json:"definition"`
	WorkingStatuses []string     `json:"working_statuses,omitempty"`
	DoneStatuses    []string     `json:"done_statuses,omitempty"`
}

// Ticket is the transport view of one ticket.
type Ticket struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Priority        string    `json:"priority"`
	AssigneeID      string    `json:"assignee_id,omitempty"`
	Status          string    `json:"status"`
	WorkflowID      string    `json:"workflow_id,omitempty"`
	WorkflowVersion int       `json:"workflow_version,omitempty"`
	HasSnapshot     bool      `json:"has_snapshot"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateTicketRequest captures input for creating a ticket through the create transition.
type CreateTicketRequest struct {
	TenantID    string `json:"tenant_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	Actor       Actor  `json:"actor"`
}

// TransitionRequest captures input for checking or applying a status change.
type TransitionRequest struct {
	TicketID     string `json:"-"`
	TargetStatus string `json:"target_status"`
	Actor        Actor  `json:"actor"`
}

// Decision is the transport view of one transition decision.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	ToLabel    string `json:"to_label,omitempty"`
	EdgeID     string `json:"edge_id,omitempty"`
	EdgeLabel  string `json:"edge_label,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Version    int    `json:"workflow_version,omitempty"`
}

// TransitionResult is the outcome of a transition attempt. Decision is set on denials too.
type TransitionResult struct {
	Ticket   Ticket   `json:"ticket"`
	Decision Decision `json:"decision"`
}

// TicketEvent is the transport view of one ticket history entry.
type TicketEvent struct {
	ID              string            `json:"id"`
	TicketID        string            `json:"ticket_id"`
	Kind            string            `json:"kind"`
	ActorID         string            `json:"actor_id,omitempty"`
	FromStatus      string            `json:"from_status,omitempty"`
	ToStatus        string            `json:"to_status,omitempty"`
	EdgeID          string            `json:"edge_id,omitempty"`
	WorkflowID      string            `json:"workflow_id,omitempty"`
	WorkflowVersion int               `json:"workflow_version,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// StatusBuckets is the transport view of bucketized status lists with optional counts.
type StatusBuckets struct {
	TenantID          string              `json:"tenant_id"`
	WorkflowID        string              `json:"workflow_id"`
	WorkingByWorkflow map[string][]string `json:"working_by_workflow"`
	DoneByWorkflow    map[string][]string `json:"done_by_workflow"`
	Malformed         []string            `json:"malformed,omitempty"`
	Counts            *BucketCounts       `json:"counts,omitempty"`
}

// BucketCounts reports ticket counts per bucket.
type BucketCounts struct {
	Working int `json:"working"`
	Done    int `json:"done"`
	OnHold  int `json:"on_hold"`
	Total   int `json:"total"`
}

// BackfillResult reports one snapshot backfill run.
type BackfillResult struct {
	TenantID   string `json:"tenant_id"`
	Scanned    int    `json:"scanned"`
	Backfilled int    `json:"backfilled"`
	Skipped    int    `json:"skipped"`
}

// WorkflowService exposes workflow reads and lifecycle writes.
type WorkflowService interface {
	ListWorkflows(context.Context, string) ([]Workflow, error)
	CreateWorkflow(context.Context, CreateWorkflowRequest) (Workflow, error)
	GetActiveWorkflow(context.Context, string) (Workflow, error)
	GetWorkflow(context.Context, string, string) (Workflow, error)
	EditWorkflow(context.Context, EditWorkflowRequest) (Workflow, error)
	ActivateWorkflow(context.Context, string, string) (Workflow, error)
	ArchiveWorkflow(context.Context, string, string) (Workflow, error)
	DeleteWorkflow(context.Context, string, string) error
	ListWorkflowVersions(context.Context, string, string) ([]Workflow, error)
	GetWorkflowVersion(context.Context, string, string, int) (Workflow, error)
	StatusBuckets(context.Context, string, string) (StatusBuckets, error)
}

// TicketService exposes ticket creation and transition validation.
type TicketService interface {
	CreateTicket(context.Context, CreateTicketRequest) (Ticket, error)
	GetTicket(context.Context, string) (Ticket, error)
	AvailableTransitions(context.Context, string, Actor) ([]Decision, error)
	CheckTransition(context.Context, TransitionRequest) (Decision, error)
	TransitionTicket(context.Context, TransitionRequest) (TransitionResult, error)
	ListTicketEvents(context.Context, string, int) ([]TicketEvent, error)
}

// BackfillService exposes the snapshot backfill for one tenant.
type BackfillService interface {
	BackfillTenant(context.Context, string) (BackfillResult, error)
}
