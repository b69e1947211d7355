package app

import (
	"context"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

// Repository represents the persistence collaborator used by the service.
type Repository interface {
	CreateWorkflow(context.Context, domain.WorkflowDefinition) error
	SaveWorkflowVersion(context.Context, domain.WorkflowDefinition) error
	GetWorkflow(context.Context, string, string) (domain.WorkflowDefinition, error)
	GetWorkflowVersion(context.Context, string, string, int) (domain.WorkflowDefinition, error)
	ListWorkflows(context.Context, string) ([]domain.WorkflowDefinition, error)
	ListWorkflowVersions(context.Context, string, string) ([]domain.WorkflowDefinition, error)
	GetActiveWorkflow(context.Context, string) (domain.WorkflowDefinition, error)
	GetSystemDefaultWorkflow(context.Context, string) (domain.WorkflowDefinition, error)
	ActivateWorkflow(context.Context, string, string, time.Time) (domain.WorkflowDefinition, error)
	SetWorkflowStatus(context.Context, string, string, domain.WorkflowStatus, time.Time) error
	DeleteWorkflow(context.Context, string, string) error
	ListTenants(context.Context) ([]string, error)

	CreateTicket(context.Context, domain.Ticket) error
	GetTicket(context.Context, string) (domain.Ticket, error)
	// UpdateTicketStatus moves a ticket from one status to another and fails with
	// ErrStatusChanged when the stored status no longer matches the from status.
	UpdateTicketStatus(context.Context, string, string, string, time.Time) error
	UpdateTicketAssignee(context.Context, string, string, time.Time) error
	SaveWorkflowSnapshot(context.Context, string, domain.WorkflowSnapshot, int) error
	ListTicketsMissingSnapshot(context.Context, string) ([]domain.Ticket, error)
	CountTicketsByWorkflow(context.Context, string, string) (int, error)
	CountTicketsByWorkflowStatus(context.Context, string) ([]domain.StatusCount, error)

	CreateTicketEvent(context.Context, domain.TicketEvent) error
	ListTicketEvents(context.Context, string, int) ([]domain.TicketEvent, error)
}

// ActionContext carries the transition facts an action may use.
type ActionContext struct {
	ActorID    string
	Roles      []string
	FromStatus string
	ToStatus   string
	EdgeID     string
	WorkflowID string
}

// ActionOutcome reports what a dispatched action wants applied to the ticket.
// A nil AssigneeID leaves the assignee unchanged.
type ActionOutcome struct {
	Summary    string
	AssigneeID *string
}

// ActionDispatcher executes side-effect descriptors after a transition is persisted.
type ActionDispatcher interface {
	Dispatch(context.Context, domain.Descriptor, domain.Ticket, ActionContext) (ActionOutcome, error)
}

// Logger is the structured logging surface the service writes to.
// *log.Logger from github.com/charmbracelet/log satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// nopLogger discards all log entries.
type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}

// noopDispatcher accepts every action without effect.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, domain.Descriptor, domain.Ticket, ActionContext) (ActionOutcome, error) {
	return ActionOutcome{}, nil
}
