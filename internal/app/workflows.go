package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/ticketflow/internal/domain"
)

// CreateWorkflowInput holds input values for create workflow operations.
type CreateWorkflowInput struct {
	TenantID        string
	Name            string
	IsDefault       bool
	Graph           domain.Graph
	WorkingStatuses []string
	DoneStatuses    []string
}

// EnsureSystemDefaultWorkflow seeds the tenant's system-default workflow once.
// The seed becomes ACTIVE when the tenant has no active workflow.
func (s *Service) EnsureSystemDefaultWorkflow(ctx context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.WorkflowDefinition{}, domain.ErrInvalidTenantID
	}
	existing, err := s.repo.GetSystemDefaultWorkflow(ctx, tenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.WorkflowDefinition{}, err
	}

	now := s.clock()
	seed := s.systemDefault
	def, err := domain.NewWorkflowDefinition(domain.WorkflowInput{
		ID:              s.idGen(),
		TenantID:        tenantID,
		Name:            seed.Name,
		IsDefault:       true,
		IsSystemDefault: true,
		Graph:           seed.Graph,
		WorkingStatuses: seed.WorkingStatuses,
		DoneStatuses:    seed.DoneStatuses,
	}, now)
	if err != nil {
		return domain.WorkflowDefinition{}, fmt.Errorf("build system default workflow: %w", err)
	}
	if err := s.repo.CreateWorkflow(ctx, def); err != nil {
		// A concurrent first call may have seeded the tenant between the read and the insert.
		if winner, getErr := s.repo.GetSystemDefaultWorkflow(ctx, tenantID); getErr == nil {
			return winner, nil
		}
		return domain.WorkflowDefinition{}, err
	}
	s.log.Info("seeded system default workflow", "tenant_id", tenantID, "workflow_id", def.ID)

	if _, err := s.repo.GetActiveWorkflow(ctx, tenantID); err == nil {
		return def, nil
	} else if !errors.Is(err, ErrNotFound) {
		return domain.WorkflowDefinition{}, err
	}
	return s.repo.ActivateWorkflow(ctx, tenantID, def.ID, now)
}

// CreateWorkflow creates a DRAFT workflow at version 1.
func (s *Service) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (domain.WorkflowDefinition, error) {
	def, err := domain.NewWorkflowDefinition(domain.WorkflowInput{
		ID:              s.idGen(),
		TenantID:        in.TenantID,
		Name:            in.Name,
		IsDefault:       in.IsDefault,
		Graph:           in.Graph,
		WorkingStatuses: in.WorkingStatuses,
		DoneStatuses:    in.DoneStatuses,
	}, s.clock())
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if err := s.repo.CreateWorkflow(ctx, def); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return def, nil
}

// GetActiveWorkflow returns the tenant's ACTIVE workflow.
func (s *Service) GetActiveWorkflow(ctx context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	return s.repo.GetActiveWorkflow(ctx, strings.TrimSpace(tenantID))
}

// GetWorkflow returns the current version of one workflow.
func (s *Service) GetWorkflow(ctx context.Context, tenantID, workflowID string) (domain.WorkflowDefinition, error) {
	return s.repo.GetWorkflow(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
}

// GetWorkflowVersion returns one retained historical version of a workflow.
func (s *Service) GetWorkflowVersion(ctx context.Context, tenantID, workflowID string, version int) (domain.WorkflowDefinition, error) {
	return s.repo.GetWorkflowVersion(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID), version)
}

// ListWorkflows lists the tenant's workflows at their current versions.
func (s *Service) ListWorkflows(ctx context.Context, tenantID string) ([]domain.WorkflowDefinition, error) {
	return s.repo.ListWorkflows(ctx, strings.TrimSpace(tenantID))
}

// ListWorkflowVersions lists every retained version of a workflow, oldest first.
func (s *Service) ListWorkflowVersions(ctx context.Context, tenantID, workflowID string) ([]domain.WorkflowDefinition, error) {
	return s.repo.ListWorkflowVersions(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
}

// SaveWorkflowEdit persists an edit as a new version. Prior versions are retained.
func (s *Service) SaveWorkflowEdit(ctx context.Context, tenantID, workflowID string, edit domain.WorkflowEdit) (domain.WorkflowDefinition, error) {
	current, err := s.repo.GetWorkflow(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if current.IsSystemDefault {
		return domain.WorkflowDefinition{}, ErrSystemDefaultImmutable
	}
	if current.Status == domain.WorkflowStatusArchived {
		return domain.WorkflowDefinition{}, ErrWorkflowArchived
	}
	next, err := current.NextVersion(edit, s.clock())
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if err := s.repo.SaveWorkflowVersion(ctx, next); err != nil {
		return domain.WorkflowDefinition{}, err
	}
	s.log.Info("saved workflow version", "tenant_id", next.TenantID, "workflow_id", next.ID, "version", next.Version)
	return next, nil
}

// ActivateWorkflow makes one workflow the tenant's ACTIVE workflow.
// The repository deactivates the previous one in the same transaction.
func (s *Service) ActivateWorkflow(ctx context.Context, tenantID, workflowID string) (domain.WorkflowDefinition, error) {
	tenantID = strings.TrimSpace(tenantID)
	workflowID = strings.TrimSpace(workflowID)
	current, err := s.repo.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if current.Status == domain.WorkflowStatusArchived {
		return domain.WorkflowDefinition{}, ErrWorkflowArchived
	}
	if current.IsActive() {
		return current, nil
	}
	activated, err := s.repo.ActivateWorkflow(ctx, tenantID, workflowID, s.clock())
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	s.log.Info("activated workflow", "tenant_id", tenantID, "workflow_id", workflowID, "version", activated.Version)
	return activated, nil
}

// ArchiveWorkflow retires a non-active, non-system workflow.
func (s *Service) ArchiveWorkflow(ctx context.Context, tenantID, workflowID string) error {
	current, err := s.repo.GetWorkflow(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
	if err != nil {
		return err
	}
	if current.IsSystemDefault {
		return ErrSystemDefaultImmutable
	}
	if current.IsActive() {
		return ErrWorkflowActive
	}
	return s.repo.SetWorkflowStatus(ctx, current.TenantID, current.ID, domain.WorkflowStatusArchived, s.clock())
}

// DeleteWorkflow hard-deletes a workflow no ticket references.
func (s *Service) DeleteWorkflow(ctx context.Context, tenantID, workflowID string) error {
	current, err := s.repo.GetWorkflow(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
	if err != nil {
		return err
	}
	if current.IsSystemDefault {
		return ErrSystemDefaultImmutable
	}
	if current.IsActive() {
		return ErrWorkflowActive
	}
	refs, err := s.repo.CountTicketsByWorkflow(ctx, current.TenantID, current.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d tickets", ErrWorkflowInUse, refs)
	}
	return s.repo.DeleteWorkflow(ctx, current.TenantID, current.ID)
}

// LiveWorkflow returns the tenant's active workflow, else its system default.
func (s *Service) LiveWorkflow(ctx context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	tenantID = strings.TrimSpace(tenantID)
	active, err := s.repo.GetActiveWorkflow(ctx, tenantID)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.WorkflowDefinition{}, err
	}
	return s.repo.GetSystemDefaultWorkflow(ctx, tenantID)
}

// StatusBuckets bucketizes the tenant's live workflow.
func (s *Service) StatusBuckets(ctx context.Context, tenantID string) (domain.StatusBuckets, error) {
	def, err := s.LiveWorkflow(ctx, tenantID)
	if err != nil {
		return domain.StatusBuckets{}, err
	}
	return s.bucketize(def), nil
}

// WorkflowBuckets bucketizes one workflow at its current version.
func (s *Service) WorkflowBuckets(ctx context.Context, tenantID, workflowID string) (domain.StatusBuckets, error) {
	def, err := s.repo.GetWorkflow(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(workflowID))
	if err != nil {
		return domain.StatusBuckets{}, err
	}
	return s.bucketize(def), nil
}

// BucketCounts counts the tenant's tickets per working, done, and on-hold bucket.
func (s *Service) BucketCounts(ctx context.Context, tenantID string) (domain.BucketCounts, error) {
	tenantID = strings.TrimSpace(tenantID)
	buckets, err := s.StatusBuckets(ctx, tenantID)
	if err != nil {
		return domain.BucketCounts{}, err
	}
	counts, err := s.repo.CountTicketsByWorkflowStatus(ctx, tenantID)
	if err != nil {
		return domain.BucketCounts{}, err
	}
	return domain.CountBuckets(tenantID, buckets, counts), nil
}

func (s *Service) bucketize(def domain.WorkflowDefinition) domain.StatusBuckets {
	buckets := domain.Bucketize(def)
	for _, raw := range buckets.Malformed {
		s.log.Warn("malformed composite status reference", "tenant_id", def.TenantID, "workflow_id", def.ID, "status", raw)
	}
	return buckets
}
