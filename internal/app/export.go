package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

// ExportVersion defines a package constant value.
const ExportVersion = "ticketflow.export.v1"

// Export is the portable form of a tenant's workflows with every retained version.
type Export struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	TenantID   string           `json:"tenant_id"`
	Workflows  []ExportWorkflow `json:"workflows"`
}

// ExportWorkflow represents one exported workflow and its version history.
type ExportWorkflow struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	Status          domain.WorkflowStatus   `json:"status"`
	IsDefault       bool                    `json:"is_default"`
	IsSystemDefault bool                    `json:"is_system_default"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	Versions        []ExportWorkflowVersion `json:"versions"`
}

// ExportWorkflowVersion represents one immutable workflow version.
type ExportWorkflowVersion struct {
	Version         int          `json:"version"`
	Name            string       `json:"name"`
	Definition      domain.Graph `json:"definition"`
	WorkingStatuses []string     `json:"working_statuses"`
	DoneStatuses    []string     `json:"done_statuses"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ExportWorkflows exports every workflow of a tenant.
func (s *Service) ExportWorkflows(ctx context.Context, tenantID string) (Export, error) {
	tenantID = strings.TrimSpace(tenantID)
	workflows, err := s.repo.ListWorkflows(ctx, tenantID)
	if err != nil {
		return Export{}, err
	}
	out := Export{
		Version:    ExportVersion,
		ExportedAt: s.clock().UTC(),
		TenantID:   tenantID,
		Workflows:  make([]ExportWorkflow, 0, len(workflows)),
	}
	for _, wf := range workflows {
		versions, err := s.repo.ListWorkflowVersions(ctx, tenantID, wf.ID)
		if err != nil {
			return Export{}, err
		}
		item := ExportWorkflow{
			ID:              wf.ID,
			Name:            wf.Name,
			Status:          wf.Status,
			IsDefault:       wf.IsDefault,
			IsSystemDefault: wf.IsSystemDefault,
			CreatedAt:       wf.CreatedAt.UTC(),
			UpdatedAt:       wf.UpdatedAt.UTC(),
			Versions:        make([]ExportWorkflowVersion, 0, len(versions)),
		}
		for _, v := range versions {
			item.Versions = append(item.Versions, exportVersionFromDomain(v))
		}
		out.Workflows = append(out.Workflows, item)
	}
	out.sort()
	return out, nil
}

// ImportWorkflows restores exported workflows into the export's tenant.
// Versions already present are left alone; newer versions are appended.
// A system default already present for the tenant is never replaced.
func (s *Service) ImportWorkflows(ctx context.Context, in Export) error {
	if err := in.Validate(); err != nil {
		return err
	}
	in.sort()

	activeID := ""
	for _, wf := range in.Workflows {
		existing, err := s.repo.GetWorkflow(ctx, in.TenantID, wf.ID)
		switch {
		case err == nil:
			if err := s.appendImportedVersions(ctx, existing, wf); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			if wf.IsSystemDefault {
				if _, err := s.repo.GetSystemDefaultWorkflow(ctx, in.TenantID); err == nil {
					s.log.Warn("import skipped second system default workflow", "tenant_id", in.TenantID, "workflow_id", wf.ID)
					continue
				} else if !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			if err := s.createImportedWorkflow(ctx, in.TenantID, wf); err != nil {
				return err
			}
		default:
			return err
		}

		switch wf.Status {
		case domain.WorkflowStatusActive:
			activeID = wf.ID
		case domain.WorkflowStatusArchived:
			if err := s.repo.SetWorkflowStatus(ctx, in.TenantID, wf.ID, domain.WorkflowStatusArchived, wf.UpdatedAt); err != nil {
				return err
			}
		}
	}
	if activeID != "" {
		if _, err := s.repo.ActivateWorkflow(ctx, in.TenantID, activeID, s.clock()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createImportedWorkflow(ctx context.Context, tenantID string, wf ExportWorkflow) error {
	first := wf.toDomain(tenantID, wf.Versions[0])
	first.Status = domain.WorkflowStatusDraft
	if err := s.repo.CreateWorkflow(ctx, first); err != nil {
		return err
	}
	for _, v := range wf.Versions[1:] {
		next := wf.toDomain(tenantID, v)
		next.Status = domain.WorkflowStatusDraft
		if err := s.repo.SaveWorkflowVersion(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) appendImportedVersions(ctx context.Context, existing domain.WorkflowDefinition, wf ExportWorkflow) error {
	for _, v := range wf.Versions {
		if v.Version <= existing.Version {
			continue
		}
		next := wf.toDomain(existing.TenantID, v)
		next.Status = existing.Status
		if err := s.repo.SaveWorkflowVersion(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the requested operation.
func (e *Export) Validate() error {
	if e.Version != "" && e.Version != ExportVersion {
		return fmt.Errorf("unsupported export version: %q", e.Version)
	}
	e.TenantID = strings.TrimSpace(e.TenantID)
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required: %w", domain.ErrInvalidTenantID)
	}
	ids := map[string]struct{}{}
	systemDefaults := 0
	active := 0
	for i, wf := range e.Workflows {
		if strings.TrimSpace(wf.ID) == "" {
			return fmt.Errorf("workflows[%d].id is required", i)
		}
		if _, exists := ids[wf.ID]; exists {
			return fmt.Errorf("duplicate workflow id: %q", wf.ID)
		}
		ids[wf.ID] = struct{}{}
		if strings.TrimSpace(wf.Name) == "" {
			return fmt.Errorf("workflows[%d].name is required", i)
		}
		status, err := domain.ParseWorkflowStatus(string(wf.Status))
		if err != nil {
			return fmt.Errorf("workflows[%d].status: %w", i, err)
		}
		e.Workflows[i].Status = status
		if status == domain.WorkflowStatusActive {
			active++
		}
		if wf.IsSystemDefault {
			systemDefaults++
		}
		if len(wf.Versions) == 0 {
			return fmt.Errorf("workflows[%d] has no versions", i)
		}
		seen := map[int]struct{}{}
		for j, v := range wf.Versions {
			if v.Version < 1 {
				return fmt.Errorf("workflows[%d].versions[%d].version must be >= 1", i, j)
			}
			if _, exists := seen[v.Version]; exists {
				return fmt.Errorf("workflows[%d] duplicate version %d", i, v.Version)
			}
			seen[v.Version] = struct{}{}
			if err := v.Definition.Normalize().Validate(); err != nil {
				return fmt.Errorf("workflows[%d].versions[%d]: %w", i, j, err)
			}
		}
	}
	if active > 1 {
		return fmt.Errorf("export has %d active workflows", active)
	}
	if systemDefaults > 1 {
		return fmt.Errorf("export has %d system default workflows", systemDefaults)
	}
	return nil
}

func (e *Export) sort() {
	sort.Slice(e.Workflows, func(i, j int) bool {
		return e.Workflows[i].ID < e.Workflows[j].ID
	})
	for i := range e.Workflows {
		versions := e.Workflows[i].Versions
		sort.Slice(versions, func(a, b int) bool {
			return versions[a].Version < versions[b].Version
		})
	}
}

func exportVersionFromDomain(def domain.WorkflowDefinition) ExportWorkflowVersion {
	return ExportWorkflowVersion{
		Version:         def.Version,
		Name:            def.Name,
		Definition:      def.Graph.Clone(),
		WorkingStatuses: append([]string{}, def.WorkingStatuses...),
		DoneStatuses:    append([]string{}, def.DoneStatuses...),
		CreatedAt:       def.UpdatedAt.UTC(),
	}
}

func (wf ExportWorkflow) toDomain(tenantID string, v ExportWorkflowVersion) domain.WorkflowDefinition {
	name := strings.TrimSpace(v.Name)
	if name == "" {
		name = strings.TrimSpace(wf.Name)
	}
	created := wf.CreatedAt.UTC()
	if created.IsZero() {
		created = v.CreatedAt.UTC()
	}
	return domain.WorkflowDefinition{
		ID:              strings.TrimSpace(wf.ID),
		TenantID:        tenantID,
		Name:            name,
		Version:         v.Version,
		Status:          wf.Status,
		IsDefault:       wf.IsDefault,
		IsSystemDefault: wf.IsSystemDefault,
		Graph:           v.Definition.Normalize(),
		WorkingStatuses: append([]string{}, v.WorkingStatuses...),
		DoneStatuses:    append([]string{}, v.DoneStatuses...),
		CreatedAt:       created,
		UpdatedAt:       v.CreatedAt.UTC(),
	}
}
