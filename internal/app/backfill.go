package app

import (
	"context"
	"errors"
	"strings"

	"github.com/hylla/ticketflow/internal/domain"
)

// BackfillResult summarizes one snapshot backfill run for a tenant.
type BackfillResult struct {
	TenantID   string `json:"tenant_id"`
	Scanned    int    `json:"scanned"`
	Backfilled int    `json:"backfilled"`
	Skipped    int    `json:"skipped"`
}

// BackfillMissingSnapshots assigns the current snapshot of each ticket's workflow to
// tickets that have none. Tickets without a workflow id take the system default.
// Tickets whose workflow no longer exists are skipped. Re-running is safe: tickets
// that already carry a snapshot are never rewritten.
func (s *Service) BackfillMissingSnapshots(ctx context.Context, tenantID string) (BackfillResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	result := BackfillResult{TenantID: tenantID}
	if tenantID == "" {
		return result, domain.ErrInvalidTenantID
	}
	tickets, err := s.repo.ListTicketsMissingSnapshot(ctx, tenantID)
	if err != nil {
		return result, err
	}

	cache := map[string]*domain.WorkflowSnapshot{}
	for _, ticket := range tickets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		snap, err := s.backfillSnapshotFor(ctx, ticket, cache)
		if err != nil {
			return result, err
		}
		if snap == nil {
			result.Skipped++
			s.log.Warn("snapshot backfill skipped ticket", "tenant_id", tenantID, "ticket_id", ticket.ID, "workflow_id", ticket.WorkflowID)
			continue
		}
		err = s.repo.SaveWorkflowSnapshot(ctx, ticket.ID, *snap, snap.Version)
		switch {
		case errors.Is(err, domain.ErrSnapshotAlreadySet):
			result.Skipped++
			continue
		case err != nil:
			return result, err
		}
		result.Backfilled++
	}
	s.log.Info("snapshot backfill finished",
		"tenant_id", tenantID,
		"scanned", result.Scanned,
		"backfilled", result.Backfilled,
		"skipped", result.Skipped,
	)
	return result, nil
}

// BackfillAllTenants runs BackfillMissingSnapshots for every tenant with workflows.
func (s *Service) BackfillAllTenants(ctx context.Context) ([]BackfillResult, error) {
	tenants, err := s.repo.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BackfillResult, 0, len(tenants))
	for _, tenantID := range tenants {
		res, err := s.BackfillMissingSnapshots(ctx, tenantID)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// backfillSnapshotFor returns the snapshot to assign, or nil when the ticket's workflow is gone.
func (s *Service) backfillSnapshotFor(ctx context.Context, ticket domain.Ticket, cache map[string]*domain.WorkflowSnapshot) (*domain.WorkflowSnapshot, error) {
	key := strings.TrimSpace(ticket.WorkflowID)
	if snap, ok := cache[key]; ok {
		return snap, nil
	}
	var (
		def domain.WorkflowDefinition
		err error
	)
	if key == "" {
		def, err = s.repo.GetSystemDefaultWorkflow(ctx, ticket.TenantID)
	} else {
		def, err = s.repo.GetWorkflow(ctx, ticket.TenantID, key)
	}
	if errors.Is(err, ErrNotFound) {
		cache[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap := domain.CaptureSnapshot(def)
	cache[key] = &snap
	return &snap, nil
}
