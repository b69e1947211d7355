package app

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

type fakeRepo struct {
	workflows map[string]domain.WorkflowDefinition
	versions  map[string][]domain.WorkflowDefinition
	tickets   map[string]domain.Ticket
	events    []domain.TicketEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workflows: map[string]domain.WorkflowDefinition{},
		versions:  map[string][]domain.WorkflowDefinition{},
		tickets:   map[string]domain.Ticket{},
	}
}

func (f *fakeRepo) CreateWorkflow(_ context.Context, w domain.WorkflowDefinition) error {
	if _, ok := f.workflows[w.ID]; ok {
		return fmt.Errorf("duplicate workflow %q", w.ID)
	}
	f.workflows[w.ID] = w.Clone()
	f.versions[w.ID] = []domain.WorkflowDefinition{w.Clone()}
	return nil
}

func (f *fakeRepo) SaveWorkflowVersion(_ context.Context, w domain.WorkflowDefinition) error {
	current, ok := f.workflows[w.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version >= w.Version {
		return ErrVersionConflict
	}
	f.workflows[w.ID] = w.Clone()
	f.versions[w.ID] = append(f.versions[w.ID], w.Clone())
	return nil
}

func (f *fakeRepo) GetWorkflow(_ context.Context, tenantID, id string) (domain.WorkflowDefinition, error) {
	w, ok := f.workflows[id]
	if !ok || w.TenantID != tenantID {
		return domain.WorkflowDefinition{}, ErrNotFound
	}
	return w.Clone(), nil
}

func (f *fakeRepo) GetWorkflowVersion(_ context.Context, tenantID, id string, version int) (domain.WorkflowDefinition, error) {
	for _, w := range f.versions[id] {
		if w.TenantID == tenantID && w.Version == version {
			return w.Clone(), nil
		}
	}
	return domain.WorkflowDefinition{}, ErrNotFound
}

func (f *fakeRepo) ListWorkflows(_ context.Context, tenantID string) ([]domain.WorkflowDefinition, error) {
	out := make([]domain.WorkflowDefinition, 0)
	for _, w := range f.workflows {
		if w.TenantID == tenantID {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) ListWorkflowVersions(_ context.Context, tenantID, id string) ([]domain.WorkflowDefinition, error) {
	out := make([]domain.WorkflowDefinition, 0)
	for _, w := range f.versions[id] {
		if w.TenantID == tenantID {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

func (f *fakeRepo) GetActiveWorkflow(_ context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	for _, w := range f.workflows {
		if w.TenantID == tenantID && w.Status == domain.WorkflowStatusActive {
			return w.Clone(), nil
		}
	}
	return domain.WorkflowDefinition{}, ErrNotFound
}

func (f *fakeRepo) GetSystemDefaultWorkflow(_ context.Context, tenantID string) (domain.WorkflowDefinition, error) {
	for _, w := range f.workflows {
		if w.TenantID == tenantID && w.IsSystemDefault {
			return w.Clone(), nil
		}
	}
	return domain.WorkflowDefinition{}, ErrNotFound
}

func (f *fakeRepo) ActivateWorkflow(_ context.Context, tenantID, id string, at time.Time) (domain.WorkflowDefinition, error) {
	target, ok := f.workflows[id]
	if !ok || target.TenantID != tenantID {
		return domain.WorkflowDefinition{}, ErrNotFound
	}
	for wid, w := range f.workflows {
		if w.TenantID == tenantID && w.Status == domain.WorkflowStatusActive {
			w.Status = domain.WorkflowStatusDraft
			f.workflows[wid] = w
		}
	}
	target.Status = domain.WorkflowStatusActive
	target.UpdatedAt = at
	f.workflows[id] = target
	return target.Clone(), nil
}

func (f *fakeRepo) SetWorkflowStatus(_ context.Context, tenantID, id string, status domain.WorkflowStatus, at time.Time) error {
	w, ok := f.workflows[id]
	if !ok || w.TenantID != tenantID {
		return ErrNotFound
	}
	w.Status = status
	w.UpdatedAt = at
	f.workflows[id] = w
	return nil
}

func (f *fakeRepo) DeleteWorkflow(_ context.Context, tenantID, id string) error {
	w, ok := f.workflows[id]
	if !ok || w.TenantID != tenantID {
		return ErrNotFound
	}
	delete(f.workflows, id)
	delete(f.versions, id)
	return nil
}

func (f *fakeRepo) ListTenants(context.Context) ([]string, error) {
	out := []string{}
	for _, w := range f.workflows {
		if !slices.Contains(out, w.TenantID) {
			out = append(out, w.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRepo) CreateTicket(_ context.Context, t domain.Ticket) error {
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeRepo) GetTicket(_ context.Context, id string) (domain.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return domain.Ticket{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) UpdateTicketStatus(_ context.Context, id, from, to string, at time.Time) error {
	t, ok := f.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != from {
		return ErrStatusChanged
	}
	t.Status = to
	t.UpdatedAt = at
	f.tickets[id] = t
	return nil
}

func (f *fakeRepo) UpdateTicketAssignee(_ context.Context, id, assignee string, at time.Time) error {
	t, ok := f.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.AssigneeID = assignee
	t.UpdatedAt = at
	f.tickets[id] = t
	return nil
}

func (f *fakeRepo) SaveWorkflowSnapshot(_ context.Context, id string, snap domain.WorkflowSnapshot, version int) error {
	t, ok := f.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if err := t.BindSnapshot(snap); err != nil {
		return err
	}
	t.WorkflowVersion = version
	f.tickets[id] = t
	return nil
}

func (f *fakeRepo) ListTicketsMissingSnapshot(_ context.Context, tenantID string) ([]domain.Ticket, error) {
	out := []domain.Ticket{}
	for _, t := range f.tickets {
		if t.TenantID == tenantID && t.WorkflowSnapshot == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CountTicketsByWorkflow(_ context.Context, tenantID, workflowID string) (int, error) {
	n := 0
	for _, t := range f.tickets {
		if t.TenantID == tenantID && t.WorkflowID == workflowID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountTicketsByWorkflowStatus(_ context.Context, tenantID string) ([]domain.StatusCount, error) {
	counts := map[[2]string]int{}
	for _, t := range f.tickets {
		if t.TenantID == tenantID {
			counts[[2]string{t.WorkflowID, t.Status}]++
		}
	}
	out := make([]domain.StatusCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, domain.StatusCount{WorkflowID: key[0], Status: key[1], Count: n})
	}
	return out, nil
}

func (f *fakeRepo) CreateTicketEvent(_ context.Context, e domain.TicketEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRepo) ListTicketEvents(_ context.Context, ticketID string, limit int) ([]domain.TicketEvent, error) {
	out := []domain.TicketEvent{}
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].TicketID == ticketID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

// newTestService builds a service with sequential ids and a fixed clock.
func newTestService(repo *fakeRepo, cfg ServiceConfig) *Service {
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewService(repo, ids, func() time.Time { return now }, cfg)
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil, ServiceConfig{})
	if svc.systemDefault.Name != "Default" || len(svc.systemDefault.Graph.Nodes) == 0 {
		t.Fatalf("expected built-in system default, got %#v", svc.systemDefault)
	}
	if svc.evaluator == nil || svc.dispatcher == nil || svc.log == nil || svc.clock == nil {
		t.Fatal("expected collaborators to be defaulted")
	}
}

func TestBuildLinearWorkflow(t *testing.T) {
	wf := BuildLinearWorkflow("Support", []StatusTemplate{
		{ID: "new", Working: true},
		{ID: "in progress", Working: true},
		{ID: "done", Done: true},
	}, []string{"CUSTOMER"}, []string{"AGENT"})

	if err := wf.Graph.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	edge, ok := domain.FindCreateEdge(wf.Graph)
	if !ok || edge.TargetNodeID != "new" || edge.Roles[0] != "CUSTOMER" {
		t.Fatalf("unexpected create edge %#v", edge)
	}
	if _, ok := wf.Graph.Edge("new", "in progress"); !ok {
		t.Fatal("expected chained edge new -> in progress")
	}
	if !slices.Equal(wf.WorkingStatuses, []string{"NEW", "IN_PROGRESS"}) || !slices.Equal(wf.DoneStatuses, []string{"DONE"}) {
		t.Fatalf("unexpected status lists %#v %#v", wf.WorkingStatuses, wf.DoneStatuses)
	}
}
