package domain

import (
	"slices"
	"strings"
	"time"
)

// WorkflowStatus is the lifecycle status of a workflow definition.
type WorkflowStatus string

// WorkflowStatus values.
const (
	WorkflowStatusDraft    WorkflowStatus = "DRAFT"
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

var validWorkflowStatuses = []WorkflowStatus{
	WorkflowStatusDraft,
	WorkflowStatusActive,
	WorkflowStatusArchived,
}

// ParseWorkflowStatus canonicalizes one workflow status value.
func ParseWorkflowStatus(raw string) (WorkflowStatus, error) {
	status := WorkflowStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !slices.Contains(validWorkflowStatuses, status) {
		return "", ErrInvalidWorkflowStatus
	}
	return status, nil
}

// WorkflowDefinition is one version of a tenant's workflow graph.
type WorkflowDefinition struct {
	ID              string
	TenantID        string
	Name            string
	Version         int
	Status          WorkflowStatus
	IsDefault       bool
	IsSystemDefault bool
	Graph           Graph
	WorkingStatuses []string
	DoneStatuses    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowInput holds values for a new workflow definition.
type WorkflowInput struct {
	ID              string
	TenantID        string
	Name            string
	IsDefault       bool
	IsSystemDefault bool
	Graph           Graph
	WorkingStatuses []string
	DoneStatuses    []string
}

// NewWorkflowDefinition validates input and returns version 1 in DRAFT status.
func NewWorkflowDefinition(in WorkflowInput, now time.Time) (WorkflowDefinition, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ID == "" {
		return WorkflowDefinition{}, ErrInvalidID
	}
	if in.TenantID == "" {
		return WorkflowDefinition{}, ErrInvalidTenantID
	}
	if in.Name == "" {
		return WorkflowDefinition{}, ErrInvalidName
	}
	graph := in.Graph.Normalize()
	if err := graph.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}
	return WorkflowDefinition{
		ID:              in.ID,
		TenantID:        in.TenantID,
		Name:            in.Name,
		Version:         1,
		Status:          WorkflowStatusDraft,
		IsDefault:       in.IsDefault,
		IsSystemDefault: in.IsSystemDefault,
		Graph:           graph,
		WorkingStatuses: normalizeStatusRefs(in.WorkingStatuses),
		DoneStatuses:    normalizeStatusRefs(in.DoneStatuses),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}, nil
}

// WorkflowEdit holds the replaceable parts of a workflow definition.
// Nil status lists keep the previous version's lists.
type WorkflowEdit struct {
	Name            string
	Graph           Graph
	WorkingStatuses []string
	DoneStatuses    []string
}

// NextVersion returns a new definition value with the edit applied and the version incremented.
// The receiver is left untouched.
func (w WorkflowDefinition) NextVersion(edit WorkflowEdit, now time.Time) (WorkflowDefinition, error) {
	graph := edit.Graph.Normalize()
	if err := graph.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}
	next := w.Clone()
	if name := strings.TrimSpace(edit.Name); name != "" {
		next.Name = name
	}
	next.Graph = graph
	if edit.WorkingStatuses != nil {
		next.WorkingStatuses = normalizeStatusRefs(edit.WorkingStatuses)
	}
	if edit.DoneStatuses != nil {
		next.DoneStatuses = normalizeStatusRefs(edit.DoneStatuses)
	}
	next.Version = w.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

// IsActive reports whether the workflow is the tenant's active workflow.
func (w WorkflowDefinition) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// Clone returns a deep copy of the definition.
func (w WorkflowDefinition) Clone() WorkflowDefinition {
	out := w
	out.Graph = w.Graph.Clone()
	out.WorkingStatuses = slices.Clone(w.WorkingStatuses)
	out.DoneStatuses = slices.Clone(w.DoneStatuses)
	return out
}

// Scope returns the graph scope used for status resolution and transition checks.
func (w WorkflowDefinition) Scope() WorkflowScope {
	return WorkflowScope{WorkflowID: w.ID, Version: w.Version, Graph: w.Graph}
}

// WorkflowScope binds a graph to the workflow id its statuses belong to.
type WorkflowScope struct {
	WorkflowID string
	Version    int
	Graph      Graph
}

// normalizeStatusRefs trims entries and drops empties, keeping order and duplicates' first position.
func normalizeStatusRefs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, raw := range in {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
