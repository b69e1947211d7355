package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

func supportGraph() domain.Graph {
	return domain.Graph{
		Nodes: []domain.StatusNode{
			{ID: "__initial__", IsInitial: true},
			{ID: "new"},
			{ID: "open"},
			{ID: "closed"},
		},
		Edges: []domain.TransitionEdge{
			{ID: "create", SourceNodeID: "__initial__", TargetNodeID: "new", Roles: []string{"AGENT"}, IsCreateTransition: true},
			{ID: "e1", SourceNodeID: "new", TargetNodeID: "open", Roles: []string{"MANAGER"}},
			{ID: "e2", SourceNodeID: "open", TargetNodeID: "closed", Roles: []string{"STAFF"}},
		},
	}
}

func TestEnsureSystemDefaultWorkflowIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.EnsureSystemDefaultWorkflow(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	if !first.IsSystemDefault || first.Status != domain.WorkflowStatusActive {
		t.Fatalf("expected active system default, got %#v", first)
	}
	second, err := svc.EnsureSystemDefaultWorkflow(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() second error = %v", err)
	}
	if second.ID != first.ID || len(repo.workflows) != 1 {
		t.Fatalf("expected one seeded workflow, got %d", len(repo.workflows))
	}
	if _, err := svc.EnsureSystemDefaultWorkflow(ctx, " "); !errors.Is(err, domain.ErrInvalidTenantID) {
		t.Fatalf("expected ErrInvalidTenantID, got %v", err)
	}
}

// seedRaceRepo lets a competing writer seed the system default between the read and the insert.
type seedRaceRepo struct {
	*fakeRepo
	winner domain.WorkflowDefinition
}

func (r *seedRaceRepo) CreateWorkflow(ctx context.Context, w domain.WorkflowDefinition) error {
	if err := r.fakeRepo.CreateWorkflow(ctx, r.winner); err != nil {
		return err
	}
	return errors.New("UNIQUE constraint failed: workflows.tenant_id")
}

func TestEnsureSystemDefaultWorkflowReturnsConcurrentSeed(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	winner, err := domain.NewWorkflowDefinition(domain.WorkflowInput{
		ID:              "wf-winner",
		TenantID:        "tenant-1",
		Name:            "Default",
		IsDefault:       true,
		IsSystemDefault: true,
		Graph:           supportGraph(),
	}, now)
	if err != nil {
		t.Fatalf("NewWorkflowDefinition() error = %v", err)
	}
	repo := &seedRaceRepo{fakeRepo: newFakeRepo(), winner: winner}
	svc := NewService(repo, func() string { return "wf-loser" }, func() time.Time { return now }, ServiceConfig{})

	got, err := svc.EnsureSystemDefaultWorkflow(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	if got.ID != "wf-winner" || len(repo.workflows) != 1 {
		t.Fatalf("expected the concurrent seed, got %q with %d workflows", got.ID, len(repo.workflows))
	}
}

func TestLiveWorkflowFallsBackToSystemDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	seeded, err := svc.EnsureSystemDefaultWorkflow(ctx, "t")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	inactive := repo.workflows[seeded.ID]
	inactive.Status = domain.WorkflowStatusDraft
	repo.workflows[seeded.ID] = inactive

	if _, err := svc.GetActiveWorkflow(ctx, "t"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active workflow, got %v", err)
	}
	live, err := svc.LiveWorkflow(ctx, " t ")
	if err != nil {
		t.Fatalf("LiveWorkflow() error = %v", err)
	}
	if live.ID != seeded.ID || !live.IsSystemDefault {
		t.Fatalf("expected system default fallback, got %#v", live)
	}

	active := seedActiveWorkflow(t, svc, supportGraph())
	live, err = svc.LiveWorkflow(ctx, "t")
	if err != nil {
		t.Fatalf("LiveWorkflow() error = %v", err)
	}
	if live.ID != active.ID {
		t.Fatalf("expected active workflow to win, got %q", live.ID)
	}
}

func TestActivateWorkflowKeepsSingleActive(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	if _, err := svc.EnsureSystemDefaultWorkflow(ctx, "t"); err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	ids := []string{}
	for _, name := range []string{"A", "B", "C"} {
		wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: name, Graph: supportGraph()})
		if err != nil {
			t.Fatalf("CreateWorkflow() error = %v", err)
		}
		if wf.Status != domain.WorkflowStatusDraft || wf.Version != 1 {
			t.Fatalf("unexpected new workflow %#v", wf)
		}
		ids = append(ids, wf.ID)
	}
	for _, id := range []string{ids[0], ids[2], ids[1], ids[1], ids[0]} {
		if _, err := svc.ActivateWorkflow(ctx, "t", id); err != nil {
			t.Fatalf("ActivateWorkflow() error = %v", err)
		}
		active := 0
		for _, w := range repo.workflows {
			if w.Status == domain.WorkflowStatusActive {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("expected exactly one active workflow, got %d", active)
		}
	}
	got, err := svc.GetActiveWorkflow(ctx, "t")
	if err != nil || got.ID != ids[0] {
		t.Fatalf("GetActiveWorkflow() = %#v, %v", got, err)
	}
}

func TestSaveWorkflowEditAppendsVersion(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: "Support", Graph: supportGraph()})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	edited := supportGraph()
	edited.Edges = append(edited.Edges, domain.TransitionEdge{ID: "e3", SourceNodeID: "closed", TargetNodeID: "open", Roles: []string{"MANAGER"}})
	next, err := svc.SaveWorkflowEdit(ctx, "t", wf.ID, domain.WorkflowEdit{Graph: edited})
	if err != nil {
		t.Fatalf("SaveWorkflowEdit() error = %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version)
	}
	v1, err := svc.GetWorkflowVersion(ctx, "t", wf.ID, 1)
	if err != nil {
		t.Fatalf("GetWorkflowVersion() error = %v", err)
	}
	if len(v1.Graph.Edges) != 3 {
		t.Fatalf("expected version 1 to be retained unchanged, got %d edges", len(v1.Graph.Edges))
	}
	versions, err := svc.ListWorkflowVersions(ctx, "t", wf.ID)
	if err != nil || len(versions) != 2 {
		t.Fatalf("ListWorkflowVersions() = %d, %v", len(versions), err)
	}
}

func TestSystemDefaultWorkflowIsImmutable(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	sys, err := svc.EnsureSystemDefaultWorkflow(ctx, "t")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	if _, err := svc.SaveWorkflowEdit(ctx, "t", sys.ID, domain.WorkflowEdit{Graph: supportGraph()}); !errors.Is(err, ErrSystemDefaultImmutable) {
		t.Fatalf("expected ErrSystemDefaultImmutable on edit, got %v", err)
	}
	if err := svc.DeleteWorkflow(ctx, "t", sys.ID); !errors.Is(err, ErrSystemDefaultImmutable) {
		t.Fatalf("expected ErrSystemDefaultImmutable on delete, got %v", err)
	}
	if err := svc.ArchiveWorkflow(ctx, "t", sys.ID); !errors.Is(err, ErrSystemDefaultImmutable) {
		t.Fatalf("expected ErrSystemDefaultImmutable on archive, got %v", err)
	}
}

func TestDeleteWorkflowGuards(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: "Support", Graph: supportGraph()})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if _, err := svc.ActivateWorkflow(ctx, "t", wf.ID); err != nil {
		t.Fatalf("ActivateWorkflow() error = %v", err)
	}
	if err := svc.DeleteWorkflow(ctx, "t", wf.ID); !errors.Is(err, ErrWorkflowActive) {
		t.Fatalf("expected ErrWorkflowActive, got %v", err)
	}

	other, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: "Other", Graph: supportGraph()})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	repo.tickets["legacy"] = domain.Ticket{ID: "legacy", TenantID: "t", WorkflowID: other.ID, Status: "new"}
	if err := svc.DeleteWorkflow(ctx, "t", other.ID); !errors.Is(err, ErrWorkflowInUse) {
		t.Fatalf("expected ErrWorkflowInUse, got %v", err)
	}
	delete(repo.tickets, "legacy")
	if err := svc.DeleteWorkflow(ctx, "t", other.ID); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if _, err := svc.GetWorkflow(ctx, "t", other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestArchiveWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: "Support", Graph: supportGraph()})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if err := svc.ArchiveWorkflow(ctx, "t", wf.ID); err != nil {
		t.Fatalf("ArchiveWorkflow() error = %v", err)
	}
	if _, err := svc.ActivateWorkflow(ctx, "t", wf.ID); !errors.Is(err, ErrWorkflowArchived) {
		t.Fatalf("expected ErrWorkflowArchived on activate, got %v", err)
	}
	if _, err := svc.SaveWorkflowEdit(ctx, "t", wf.ID, domain.WorkflowEdit{Graph: supportGraph()}); !errors.Is(err, ErrWorkflowArchived) {
		t.Fatalf("expected ErrWorkflowArchived on edit, got %v", err)
	}
}

func TestStatusBucketsAndCounts(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()
	wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{
		TenantID:        "t",
		Name:            "Support",
		Graph:           supportGraph(),
		WorkingStatuses: []string{"new", "open", "workflow-legacy-IN_PROGRESS"},
		DoneStatuses:    []string{"closed"},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if _, err := svc.ActivateWorkflow(ctx, "t", wf.ID); err != nil {
		t.Fatalf("ActivateWorkflow() error = %v", err)
	}
	buckets, err := svc.StatusBuckets(ctx, "t")
	if err != nil {
		t.Fatalf("StatusBuckets() error = %v", err)
	}
	if got := buckets.WorkingByWorkflow["legacy"]; len(got) != 1 || got[0] != "IN_PROGRESS" {
		t.Fatalf("unexpected legacy bucket %#v", buckets.WorkingByWorkflow)
	}

	repo.tickets["a"] = domain.Ticket{ID: "a", TenantID: "t", WorkflowID: wf.ID, Status: "new"}
	repo.tickets["b"] = domain.Ticket{ID: "b", TenantID: "t", WorkflowID: wf.ID, Status: "closed"}
	repo.tickets["c"] = domain.Ticket{ID: "c", TenantID: "t", WorkflowID: "legacy", Status: "in progress"}
	repo.tickets["d"] = domain.Ticket{ID: "d", TenantID: "t", WorkflowID: wf.ID, Status: "paused"}
	counts, err := svc.BucketCounts(ctx, "t")
	if err != nil {
		t.Fatalf("BucketCounts() error = %v", err)
	}
	if counts.Working != 2 || counts.Done != 1 || counts.OnHold != 1 || counts.Total != 4 {
		t.Fatalf("unexpected counts %#v", counts)
	}
}
