package domain

import "slices"

// WorkflowSnapshot is the immutable copy of a workflow definition embedded on a ticket.
type WorkflowSnapshot struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          WorkflowStatus `json:"status"`
	IsActive        bool           `json:"isActive"`
	IsDefault       bool           `json:"isDefault"`
	IsSystemDefault bool           `json:"isSystemDefault"`
	Version         int            `json:"version"`
	Graph           Graph          `json:"definition"`
	WorkingStatuses []string       `json:"workingStatuses"`
	DoneStatuses    []string       `json:"doneStatuses"`
}

// CaptureSnapshot copies a workflow definition into a snapshot.
// Graph and status lists are deep-copied so later edits to w never reach the snapshot.
func CaptureSnapshot(w WorkflowDefinition) WorkflowSnapshot {
	working := slices.Clone(w.WorkingStatuses)
	if working == nil {
		working = []string{}
	}
	done := slices.Clone(w.DoneStatuses)
	if done == nil {
		done = []string{}
	}
	return WorkflowSnapshot{
		ID:              w.ID,
		Name:            w.Name,
		Status:          w.Status,
		IsActive:        w.IsActive(),
		IsDefault:       w.IsDefault,
		IsSystemDefault: w.IsSystemDefault,
		Version:         w.Version,
		Graph:           w.Graph.Clone(),
		WorkingStatuses: working,
		DoneStatuses:    done,
	}
}

// Clone returns a deep copy of the snapshot.
func (s WorkflowSnapshot) Clone() WorkflowSnapshot {
	out := s
	out.Graph = s.Graph.Clone()
	out.WorkingStatuses = slices.Clone(s.WorkingStatuses)
	out.DoneStatuses = slices.Clone(s.DoneStatuses)
	return out
}

// Scope returns the graph scope frozen in the snapshot.
func (s WorkflowSnapshot) Scope() WorkflowScope {
	return WorkflowScope{WorkflowID: s.ID, Version: s.Version, Graph: s.Graph}
}
