package domain

import (
	"slices"
	"strings"
	"time"
)

// Priority is the ticket priority.
type Priority string

// Priority values.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var validPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// Ticket holds the ticket fields the workflow engine reads and writes.
// Status is a free-form string resolved against the ticket's workflow graph.
// An empty WorkflowID marks a ticket created before workflow support.
type Ticket struct {
	ID               string
	TenantID         string
	Title            string
	Description      string
	Priority         Priority
	AssigneeID       string
	Status           string
	WorkflowID       string
	WorkflowSnapshot *WorkflowSnapshot
	WorkflowVersion  int
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TicketInput holds values for a new ticket.
type TicketInput struct {
	ID          string
	TenantID    string
	Title       string
	Description string
	Priority    Priority
	AssigneeID  string
	Status      string
	CreatedBy   string
}

// NewTicket validates input and returns a ticket without a workflow binding.
func NewTicket(in TicketInput, now time.Time) (Ticket, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Title = strings.TrimSpace(in.Title)
	in.Status = strings.TrimSpace(in.Status)
	if in.ID == "" {
		return Ticket{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return Ticket{}, ErrInvalidTenantID
	}
	if in.Title == "" {
		return Ticket{}, ErrInvalidTitle
	}
	if in.Status == "" {
		return Ticket{}, ErrInvalidStatus
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !slices.Contains(validPriorities, in.Priority) {
		in.Priority = PriorityMedium
	}
	return Ticket{
		ID:          in.ID,
		TenantID:    in.TenantID,
		Title:       in.Title,
		Description: strings.TrimSpace(in.Description),
		Priority:    in.Priority,
		AssigneeID:  strings.TrimSpace(in.AssigneeID),
		Status:      in.Status,
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// BindSnapshot attaches the workflow snapshot once. A second call fails.
func (t *Ticket) BindSnapshot(snapshot WorkflowSnapshot) error {
	if t.WorkflowSnapshot != nil {
		return ErrSnapshotAlreadySet
	}
	frozen := snapshot.Clone()
	t.WorkflowSnapshot = &frozen
	t.WorkflowID = snapshot.ID
	t.WorkflowVersion = snapshot.Version
	return nil
}

// SetStatus records a new status string.
func (t *Ticket) SetStatus(status string, now time.Time) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return ErrInvalidStatus
	}
	t.Status = status
	t.UpdatedAt = now.UTC()
	return nil
}

// Assign sets or clears the assignee.
func (t *Ticket) Assign(assigneeID string, now time.Time) {
	t.AssigneeID = strings.TrimSpace(assigneeID)
	t.UpdatedAt = now.UTC()
}
