package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/ticketflow/internal/domain"
)

// Actor identifies who performs a ticket action and which roles they hold.
type Actor struct {
	ID    string
	Roles []string
}

// conditionContext builds the evaluator context for the actor.
func (a Actor) conditionContext() domain.ConditionContext {
	return domain.ConditionContext{ActorID: strings.TrimSpace(a.ID), Roles: a.Roles}
}

// CreateTicketInput holds input values for create ticket operations.
type CreateTicketInput struct {
	TenantID    string
	Title       string
	Description string
	Priority    domain.Priority
	AssigneeID  string
	Actor       Actor
}

// TransitionTicketInput holds input values for transition ticket operations.
type TransitionTicketInput struct {
	TicketID     string
	TargetStatus string
	Actor        Actor
}

// CreateTicket creates a ticket through the live workflow's create transition.
// The ticket starts at the create edge's target and carries a snapshot of the workflow.
func (s *Service) CreateTicket(ctx context.Context, in CreateTicketInput) (domain.Ticket, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return domain.Ticket{}, domain.ErrInvalidTenantID
	}
	def, err := s.LiveWorkflow(ctx, tenantID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("resolve workflow for tenant %q: %w", tenantID, err)
	}
	edge, ok := domain.FindCreateEdge(def.Graph)
	if !ok {
		return domain.Ticket{}, fmt.Errorf("%w: workflow %s has no create transition", ErrCreateNotPermitted, def.ID)
	}

	now := s.clock()
	ticket, err := domain.NewTicket(domain.TicketInput{
		ID:          s.idGen(),
		TenantID:    tenantID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		AssigneeID:  in.AssigneeID,
		Status:      edge.TargetNodeID,
		CreatedBy:   in.Actor.ID,
	}, now)
	if err != nil {
		return domain.Ticket{}, err
	}
	decision := domain.CheckCreate(def.Scope(), ticket, in.Actor.Roles, s.evaluator, in.Actor.conditionContext())
	if !decision.Allowed {
		return domain.Ticket{}, fmt.Errorf("%w: %w", ErrCreateNotPermitted, decision.Err())
	}
	if err := ticket.BindSnapshot(domain.CaptureSnapshot(def)); err != nil {
		return domain.Ticket{}, err
	}
	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		return domain.Ticket{}, err
	}
	if err := s.recordEvent(ctx, ticket, domain.TicketEventCreate, in.Actor.ID, "", ticket.Status, decision.Edge.ID, nil); err != nil {
		return domain.Ticket{}, err
	}

	return s.runActions(ctx, ticket, decision.Edge, ActionContext{
		ActorID:    in.Actor.ID,
		Roles:      in.Actor.Roles,
		ToStatus:   ticket.Status,
		EdgeID:     decision.Edge.ID,
		WorkflowID: def.ID,
	}), nil
}

// GetTicket returns one ticket.
func (s *Service) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	return s.repo.GetTicket(ctx, strings.TrimSpace(ticketID))
}

// ListTicketEvents lists a ticket's history, newest first.
func (s *Service) ListTicketEvents(ctx context.Context, ticketID string, limit int) ([]domain.TicketEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListTicketEvents(ctx, strings.TrimSpace(ticketID), limit)
}

// CheckTransition decides whether the actor may move the ticket to target.
// It has no side effects.
func (s *Service) CheckTransition(ctx context.Context, ticketID, target string, actor Actor) (domain.TransitionDecision, error) {
	ticket, err := s.repo.GetTicket(ctx, strings.TrimSpace(ticketID))
	if err != nil {
		return domain.TransitionDecision{}, err
	}
	return s.checkTransition(ctx, ticket, target, actor)
}

func (s *Service) checkTransition(ctx context.Context, ticket domain.Ticket, target string, actor Actor) (domain.TransitionDecision, error) {
	scope, err := s.effectiveScope(ctx, ticket)
	if err != nil {
		return domain.TransitionDecision{}, err
	}
	decision := domain.CanTransition(scope, ticket, target, actor.Roles, s.evaluator, actor.conditionContext())
	if decision.Reason == domain.ReasonUnknownStatus {
		s.log.Warn("status does not resolve in workflow",
			"ticket_id", ticket.ID,
			"workflow_id", scope.WorkflowID,
			"workflow_version", scope.Version,
			"status", ticket.Status,
			"target", target,
		)
	}
	return decision, nil
}

// TransitionTicket validates and applies a status change, then dispatches the edge actions.
// Denials return the decision together with its sentinel error.
func (s *Service) TransitionTicket(ctx context.Context, in TransitionTicketInput) (domain.Ticket, domain.TransitionDecision, error) {
	ticket, err := s.repo.GetTicket(ctx, strings.TrimSpace(in.TicketID))
	if err != nil {
		return domain.Ticket{}, domain.TransitionDecision{}, err
	}
	decision, err := s.checkTransition(ctx, ticket, in.TargetStatus, in.Actor)
	if err != nil {
		return domain.Ticket{}, domain.TransitionDecision{}, err
	}
	if !decision.Allowed {
		return ticket, decision, decision.Err()
	}

	from := ticket.Status
	now := s.clock()
	if err := ticket.SetStatus(decision.To.ID, now); err != nil {
		return domain.Ticket{}, decision, err
	}
	if err := s.repo.UpdateTicketStatus(ctx, ticket.ID, from, ticket.Status, now); err != nil {
		return domain.Ticket{}, decision, err
	}
	if err := s.recordEvent(ctx, ticket, domain.TicketEventTransition, in.Actor.ID, from, ticket.Status, decision.Edge.ID, nil); err != nil {
		return domain.Ticket{}, decision, err
	}

	ticket = s.runActions(ctx, ticket, decision.Edge, ActionContext{
		ActorID:    in.Actor.ID,
		Roles:      in.Actor.Roles,
		FromStatus: from,
		ToStatus:   ticket.Status,
		EdgeID:     decision.Edge.ID,
		WorkflowID: decision.WorkflowID,
	})
	return ticket, decision, nil
}

// AvailableTransitions evaluates every transition leaving the ticket's status.
func (s *Service) AvailableTransitions(ctx context.Context, ticketID string, actor Actor) ([]domain.TransitionDecision, error) {
	ticket, err := s.repo.GetTicket(ctx, strings.TrimSpace(ticketID))
	if err != nil {
		return nil, err
	}
	scope, err := s.effectiveScope(ctx, ticket)
	if err != nil {
		return nil, err
	}
	out, err := domain.AvailableTransitions(scope, ticket, actor.Roles, s.evaluator, actor.conditionContext())
	if errors.Is(err, domain.ErrUnknownStatus) {
		s.log.Warn("status does not resolve in workflow", "ticket_id", ticket.ID, "workflow_id", scope.WorkflowID, "status", ticket.Status)
	}
	return out, err
}

// effectiveScope resolves the graph a ticket is validated against.
func (s *Service) effectiveScope(ctx context.Context, ticket domain.Ticket) (domain.WorkflowScope, error) {
	if ticket.WorkflowSnapshot != nil {
		return ticket.WorkflowSnapshot.Scope(), nil
	}
	active, err := s.optionalWorkflow(s.repo.GetActiveWorkflow(ctx, ticket.TenantID))
	if err != nil {
		return domain.WorkflowScope{}, err
	}
	var system *domain.WorkflowDefinition
	if active == nil {
		system, err = s.optionalWorkflow(s.repo.GetSystemDefaultWorkflow(ctx, ticket.TenantID))
		if err != nil {
			return domain.WorkflowScope{}, err
		}
	}
	scope, source, err := domain.ResolveEffectiveScope(ticket, active, system)
	if err != nil {
		return domain.WorkflowScope{}, fmt.Errorf("ticket %s: %w", ticket.ID, err)
	}
	s.log.Debug("resolved workflow scope", "ticket_id", ticket.ID, "source", source, "workflow_id", scope.WorkflowID)
	return scope, nil
}

// optionalWorkflow turns ErrNotFound into a nil definition.
func (s *Service) optionalWorkflow(def domain.WorkflowDefinition, err error) (*domain.WorkflowDefinition, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// runActions dispatches edge actions after the ticket write. Action failures are
// logged and recorded but never undo the transition.
func (s *Service) runActions(ctx context.Context, ticket domain.Ticket, edge domain.TransitionEdge, actx ActionContext) domain.Ticket {
	for _, action := range edge.Actions {
		outcome, err := s.dispatcher.Dispatch(ctx, action, ticket, actx)
		meta := map[string]string{"type": action.Type}
		if err != nil {
			s.log.Error("workflow action failed", "ticket_id", ticket.ID, "edge_id", edge.ID, "action", action.Type, "err", err)
			meta["error"] = err.Error()
		} else {
			if outcome.AssigneeID != nil {
				now := s.clock()
				if err := s.repo.UpdateTicketAssignee(ctx, ticket.ID, *outcome.AssigneeID, now); err != nil {
					s.log.Error("apply action assignee", "ticket_id", ticket.ID, "err", err)
					meta["error"] = err.Error()
				} else {
					ticket.Assign(*outcome.AssigneeID, now)
				}
			}
			if outcome.Summary != "" {
				meta["summary"] = outcome.Summary
			}
		}
		if err := s.recordEvent(ctx, ticket, domain.TicketEventAction, actx.ActorID, actx.FromStatus, actx.ToStatus, edge.ID, meta); err != nil {
			s.log.Error("record action event", "ticket_id", ticket.ID, "err", err)
		}
	}
	return ticket
}

func (s *Service) recordEvent(ctx context.Context, ticket domain.Ticket, kind domain.TicketEventKind, actorID, from, to, edgeID string, meta map[string]string) error {
	if meta == nil {
		meta = map[string]string{}
	}
	return s.repo.CreateTicketEvent(ctx, domain.TicketEvent{
		ID:              s.idGen(),
		TicketID:        ticket.ID,
		TenantID:        ticket.TenantID,
		Kind:            kind,
		ActorID:         strings.TrimSpace(actorID),
		FromStatus:      from,
		ToStatus:        to,
		EdgeID:          edgeID,
		WorkflowID:      ticket.WorkflowID,
		WorkflowVersion: ticket.WorkflowVersion,
		Metadata:        meta,
		OccurredAt:      s.clock().UTC(),
	})
}
