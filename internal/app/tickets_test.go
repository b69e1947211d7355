package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

type recordingDispatcher struct {
	calls  []string
	assign string
	err    error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, action domain.Descriptor, _ domain.Ticket, actx ActionContext) (ActionOutcome, error) {
	r.calls = append(r.calls, action.Type+":"+actx.ToStatus)
	if r.err != nil {
		return ActionOutcome{}, r.err
	}
	if action.Type == "assign" {
		assignee := r.assign
		return ActionOutcome{Summary: "assigned", AssigneeID: &assignee}, nil
	}
	return ActionOutcome{Summary: "ok"}, nil
}

type denyEvaluator struct{ reason string }

func (d denyEvaluator) Evaluate(domain.Descriptor, domain.Ticket, domain.ConditionContext) domain.ConditionResult {
	return domain.ConditionResult{Reason: d.reason}
}

func seedActiveWorkflow(t *testing.T, svc *Service, graph domain.Graph) domain.WorkflowDefinition {
	t.Helper()
	ctx := context.Background()
	wf, err := svc.CreateWorkflow(ctx, CreateWorkflowInput{TenantID: "t", Name: "Support", Graph: graph})
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	active, err := svc.ActivateWorkflow(ctx, "t", wf.ID)
	if err != nil {
		t.Fatalf("ActivateWorkflow() error = %v", err)
	}
	return active
}

func TestCreateTicketBindsSnapshotAndStartsAtCreateTarget(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &recordingDispatcher{}
	svc := newTestService(repo, ServiceConfig{Dispatcher: dispatcher})
	graph := supportGraph()
	graph.Edges[0].Actions = []domain.Descriptor{{Type: "notify"}}
	wf := seedActiveWorkflow(t, svc, graph)

	ticket, err := svc.CreateTicket(context.Background(), CreateTicketInput{
		TenantID: "t",
		Title:    "Printer on fire",
		Actor:    Actor{ID: "u1", Roles: []string{"agent"}},
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if ticket.Status != "new" || ticket.WorkflowID != wf.ID || ticket.WorkflowVersion != wf.Version {
		t.Fatalf("unexpected ticket binding %#v", ticket)
	}
	if ticket.WorkflowSnapshot == nil || ticket.WorkflowSnapshot.Status != domain.WorkflowStatusActive || !ticket.WorkflowSnapshot.IsActive {
		t.Fatalf("expected active snapshot, got %#v", ticket.WorkflowSnapshot)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "notify:new" {
		t.Fatalf("unexpected dispatched actions %#v", dispatcher.calls)
	}
	events, err := svc.ListTicketEvents(context.Background(), ticket.ID, 0)
	if err != nil {
		t.Fatalf("ListTicketEvents() error = %v", err)
	}
	if len(events) != 2 || events[1].Kind != domain.TicketEventCreate || events[0].Kind != domain.TicketEventAction {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestCreateTicketRequiresCreateRole(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	seedActiveWorkflow(t, svc, supportGraph())

	_, err := svc.CreateTicket(context.Background(), CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"CUSTOMER"}}})
	if !errors.Is(err, ErrCreateNotPermitted) || !errors.Is(err, domain.ErrRoleNotPermitted) {
		t.Fatalf("expected create role denial, got %v", err)
	}
	if len(repo.tickets) != 0 {
		t.Fatal("expected no ticket to be persisted")
	}
}

func TestCreateTicketWithoutCreateEdgeDenies(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	graph := supportGraph()
	graph.Nodes[0].IsInitial = false
	graph.Edges = graph.Edges[1:]
	seedActiveWorkflow(t, svc, graph)

	_, err := svc.CreateTicket(context.Background(), CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT", "MANAGER"}}})
	if !errors.Is(err, ErrCreateNotPermitted) {
		t.Fatalf("expected ErrCreateNotPermitted, got %v", err)
	}
}

func TestCreateTicketFallsBackToSystemDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	sys, err := svc.EnsureSystemDefaultWorkflow(context.Background(), "t")
	if err != nil {
		t.Fatalf("EnsureSystemDefaultWorkflow() error = %v", err)
	}
	if err := repo.SetWorkflowStatus(context.Background(), "t", sys.ID, domain.WorkflowStatusDraft, sys.UpdatedAt); err != nil {
		t.Fatalf("SetWorkflowStatus() error = %v", err)
	}
	ticket, err := svc.CreateTicket(context.Background(), CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"CUSTOMER"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if ticket.WorkflowID != sys.ID {
		t.Fatalf("expected system default binding, got %q", ticket.WorkflowID)
	}
}

func TestTransitionTicketScenario(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &recordingDispatcher{assign: "agent-7"}
	svc := newTestService(repo, ServiceConfig{Dispatcher: dispatcher})
	graph := supportGraph()
	graph.Edges[1].Actions = []domain.Descriptor{{Type: "assign"}}
	seedActiveWorkflow(t, svc, graph)
	ctx := context.Background()

	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{ID: "u1", Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}

	_, decision, err := svc.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "closed", Actor: Actor{Roles: []string{"STAFF"}}})
	if !errors.Is(err, domain.ErrNoSuchTransition) || decision.Reason != domain.ReasonNoSuchTransition {
		t.Fatalf("expected no such transition, got %v %#v", err, decision)
	}
	_, _, err = svc.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "open", Actor: Actor{Roles: []string{"STAFF"}}})
	if !errors.Is(err, domain.ErrRoleNotPermitted) {
		t.Fatalf("expected role not permitted, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("expected no actions on denial, got %#v", dispatcher.calls)
	}

	updated, decision, err := svc.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "Open", Actor: Actor{ID: "m1", Roles: []string{"MANAGER"}}})
	if err != nil {
		t.Fatalf("TransitionTicket() error = %v", err)
	}
	if !decision.Allowed || updated.Status != "open" || repo.tickets[ticket.ID].Status != "open" {
		t.Fatalf("expected persisted open status, got %#v", updated)
	}
	if updated.AssigneeID != "agent-7" || repo.tickets[ticket.ID].AssigneeID != "agent-7" {
		t.Fatalf("expected assign action to apply, got %q", updated.AssigneeID)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "assign:open" {
		t.Fatalf("unexpected dispatched actions %#v", dispatcher.calls)
	}
}

// staleTicketRepo serves a ticket as it was before another writer moved it.
type staleTicketRepo struct {
	*fakeRepo
	stale domain.Ticket
}

func (r *staleTicketRepo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	if id == r.stale.ID {
		return r.stale, nil
	}
	return r.fakeRepo.GetTicket(ctx, id)
}

func TestTransitionTicketLosingWriterGetsStatusChanged(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	seedActiveWorkflow(t, svc, supportGraph())
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	stale := repo.tickets[ticket.ID]

	if _, _, err := svc.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "open", Actor: Actor{Roles: []string{"MANAGER"}}}); err != nil {
		t.Fatalf("TransitionTicket() error = %v", err)
	}

	loser := NewService(&staleTicketRepo{fakeRepo: repo, stale: stale}, func() string { return "id-loser" }, func() time.Time { return stale.UpdatedAt }, ServiceConfig{})
	_, decision, err := loser.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "open", Actor: Actor{Roles: []string{"MANAGER"}}})
	if !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("expected ErrStatusChanged, got %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected the stale read to pass validation, got %#v", decision)
	}

	transitions := 0
	for _, event := range repo.events {
		if event.TicketID == ticket.ID && event.Kind == domain.TicketEventTransition {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected one transition event, got %d", transitions)
	}
	if repo.tickets[ticket.ID].Status != "open" {
		t.Fatalf("expected winner status to stick, got %q", repo.tickets[ticket.ID].Status)
	}
}

func TestTransitionTicketActionFailureKeepsTransition(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &recordingDispatcher{err: errors.New("smtp down")}
	svc := newTestService(repo, ServiceConfig{Dispatcher: dispatcher})
	graph := supportGraph()
	graph.Edges[1].Actions = []domain.Descriptor{{Type: "notify"}}
	seedActiveWorkflow(t, svc, graph)
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	updated, _, err := svc.TransitionTicket(ctx, TransitionTicketInput{TicketID: ticket.ID, TargetStatus: "open", Actor: Actor{Roles: []string{"MANAGER"}}})
	if err != nil {
		t.Fatalf("TransitionTicket() error = %v", err)
	}
	if updated.Status != "open" {
		t.Fatalf("expected transition to persist, got %q", updated.Status)
	}
	last := repo.events[len(repo.events)-1]
	if last.Kind != domain.TicketEventAction || last.Metadata["error"] != "smtp down" {
		t.Fatalf("expected failed action event, got %#v", last)
	}
}

func TestConditionDenialSurfacesReason(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{Evaluator: denyEvaluator{reason: "assign the ticket first"}})
	graph := supportGraph()
	graph.Edges[1].Conditions = []domain.Descriptor{{Type: "require_assignee"}}
	seedActiveWorkflow(t, svc, graph)
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	decision, err := svc.CheckTransition(ctx, ticket.ID, "open", Actor{Roles: []string{"MANAGER"}})
	if err != nil {
		t.Fatalf("CheckTransition() error = %v", err)
	}
	if decision.Reason != domain.ReasonConditionNotMet || decision.Message != "assign the ticket first" {
		t.Fatalf("unexpected decision %#v", decision)
	}
}

func TestSnapshotGovernsAfterWorkflowEdit(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	wf := seedActiveWorkflow(t, svc, supportGraph())
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	before := repo.tickets[ticket.ID].WorkflowSnapshot.Clone()

	edited := supportGraph()
	edited.Edges[1].Roles = []string{"NOBODY"}
	if _, err := svc.SaveWorkflowEdit(ctx, "t", wf.ID, domain.WorkflowEdit{Graph: edited}); err != nil {
		t.Fatalf("SaveWorkflowEdit() error = %v", err)
	}

	decision, err := svc.CheckTransition(ctx, ticket.ID, "open", Actor{Roles: []string{"MANAGER"}})
	if err != nil {
		t.Fatalf("CheckTransition() error = %v", err)
	}
	if !decision.Allowed || decision.Version != 1 {
		t.Fatalf("expected snapshot version 1 to govern, got %#v", decision)
	}
	after := repo.tickets[ticket.ID].WorkflowSnapshot
	if after.Version != before.Version || after.Graph.Edges[1].Roles[0] != before.Graph.Edges[1].Roles[0] {
		t.Fatalf("snapshot changed after edit: %#v", after)
	}
}

func TestCheckTransitionLegacyTicketUsesActiveWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	wf := seedActiveWorkflow(t, svc, supportGraph())
	repo.tickets["legacy"] = domain.Ticket{ID: "legacy", TenantID: "t", Status: "NEW"}

	decision, err := svc.CheckTransition(context.Background(), "legacy", "open", Actor{Roles: []string{"MANAGER"}})
	if err != nil {
		t.Fatalf("CheckTransition() error = %v", err)
	}
	if !decision.Allowed || decision.WorkflowID != wf.ID {
		t.Fatalf("expected active workflow to govern legacy ticket, got %#v", decision)
	}

	repo.tickets["drifted"] = domain.Ticket{ID: "drifted", TenantID: "t", Status: "escalated"}
	decision, err = svc.CheckTransition(context.Background(), "drifted", "open", Actor{Roles: []string{"MANAGER"}})
	if err != nil {
		t.Fatalf("CheckTransition() error = %v", err)
	}
	if decision.Reason != domain.ReasonUnknownStatus {
		t.Fatalf("expected unknown status, got %#v", decision)
	}
}

func TestCheckTransitionNoWorkflow(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	repo.tickets["orphan"] = domain.Ticket{ID: "orphan", TenantID: "t", Status: "new"}
	if _, err := svc.CheckTransition(context.Background(), "orphan", "open", Actor{}); !errors.Is(err, domain.ErrNoWorkflow) {
		t.Fatalf("expected ErrNoWorkflow, got %v", err)
	}
	if _, err := svc.CheckTransition(context.Background(), "missing", "open", Actor{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAvailableTransitionsService(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, ServiceConfig{})
	seedActiveWorkflow(t, svc, supportGraph())
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, CreateTicketInput{TenantID: "t", Title: "x", Actor: Actor{Roles: []string{"AGENT"}}})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	got, err := svc.AvailableTransitions(ctx, ticket.ID, Actor{Roles: []string{"MANAGER"}})
	if err != nil {
		t.Fatalf("AvailableTransitions() error = %v", err)
	}
	if len(got) != 1 || !got[0].Allowed || got[0].To.ID != "open" {
		t.Fatalf("unexpected available transitions %#v", got)
	}
	if repo.tickets[ticket.ID].Status != "new" {
		t.Fatal("expected speculative check to leave ticket untouched")
	}
}
