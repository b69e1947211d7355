package domain

import (
	"fmt"
	"strings"
)

// DenialReason identifies why a transition was refused.
type DenialReason string

// DenialReason values.
const (
	ReasonUnknownStatus     DenialReason = "unknown_status"
	ReasonNoSuchTransition  DenialReason = "no_such_transition"
	ReasonRoleNotPermitted  DenialReason = "role_not_permitted"
	ReasonConditionNotMet   DenialReason = "condition_not_met"
	ReasonNoWorkflowInScope DenialReason = "no_workflow"
)

// ConditionContext carries caller-supplied facts for condition evaluation.
type ConditionContext struct {
	ActorID      string
	Roles        []string
	TargetStatus string
}

// ConditionResult is the outcome of one condition.
type ConditionResult struct {
	Pass   bool
	Reason string
}

// ConditionEvaluator evaluates opaque condition descriptors.
type ConditionEvaluator interface {
	Evaluate(cond Descriptor, ticket Ticket, evalCtx ConditionContext) ConditionResult
}

// PassAllConditions accepts every condition. It is used when no evaluator is configured.
type PassAllConditions struct{}

// Evaluate always passes.
func (PassAllConditions) Evaluate(Descriptor, Ticket, ConditionContext) ConditionResult {
	return ConditionResult{Pass: true}
}

// TransitionDecision is the result of a transition check.
type TransitionDecision struct {
	Allowed    bool
	Reason     DenialReason
	Message    string
	From       StatusNode
	To         StatusNode
	Edge       TransitionEdge
	WorkflowID string
	Version    int
}

// Err maps a denial onto its sentinel error. Allowed decisions return nil.
func (d TransitionDecision) Err() error {
	if d.Allowed {
		return nil
	}
	var base error
	switch d.Reason {
	case ReasonUnknownStatus:
		base = ErrUnknownStatus
	case ReasonNoSuchTransition:
		base = ErrNoSuchTransition
	case ReasonRoleNotPermitted:
		base = ErrRoleNotPermitted
	case ReasonConditionNotMet:
		base = ErrConditionNotMet
	default:
		base = ErrNoWorkflow
	}
	if d.Message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, d.Message)
}

func deny(scope WorkflowScope, reason DenialReason, format string, args ...any) TransitionDecision {
	return TransitionDecision{
		Reason:     reason,
		Message:    fmt.Sprintf(format, args...),
		WorkflowID: scope.WorkflowID,
		Version:    scope.Version,
	}
}

// CanTransition decides whether ticket may move to target under scope.
// It performs no side effects and may be called speculatively.
// A nil evaluator passes every condition.
func CanTransition(scope WorkflowScope, ticket Ticket, target string, roles []string, evaluator ConditionEvaluator, evalCtx ConditionContext) TransitionDecision {
	from, ok := ResolveNode(scope, ticket.Status)
	if !ok {
		return deny(scope, ReasonUnknownStatus, "current status %q is not in workflow %s", ticket.Status, scope.WorkflowID)
	}
	to, ok := ResolveNode(scope, target)
	if !ok {
		return deny(scope, ReasonUnknownStatus, "target status %q is not in workflow %s", target, scope.WorkflowID)
	}
	edge, ok := scope.Graph.Edge(from.ID, to.ID)
	if !ok {
		out := deny(scope, ReasonNoSuchTransition, "no transition from %s to %s", from.ID, to.ID)
		out.From, out.To = from, to
		return out
	}
	decision := checkEdge(scope, edge, ticket, roles, evaluator, evalCtx, to.ID)
	decision.From, decision.To = from, to
	return decision
}

// CheckCreate decides whether an actor may create ticket under scope through the create edge.
func CheckCreate(scope WorkflowScope, ticket Ticket, roles []string, evaluator ConditionEvaluator, evalCtx ConditionContext) TransitionDecision {
	edge, ok := FindCreateEdge(scope.Graph)
	if !ok {
		return deny(scope, ReasonNoSuchTransition, "workflow %s has no create transition", scope.WorkflowID)
	}
	to, ok := scope.Graph.Node(edge.TargetNodeID)
	if !ok {
		return deny(scope, ReasonUnknownStatus, "create transition target %q is not in workflow %s", edge.TargetNodeID, scope.WorkflowID)
	}
	decision := checkEdge(scope, edge, ticket, roles, evaluator, evalCtx, to.ID)
	decision.To = to
	if from, ok := scope.Graph.Node(edge.SourceNodeID); ok {
		decision.From = from
	}
	return decision
}

func checkEdge(scope WorkflowScope, edge TransitionEdge, ticket Ticket, roles []string, evaluator ConditionEvaluator, evalCtx ConditionContext, target string) TransitionDecision {
	if !rolesIntersect(edge.Roles, roles) {
		out := deny(scope, ReasonRoleNotPermitted, "roles [%s] may not use transition %s", strings.Join(roles, ", "), edge.ID)
		out.Edge = edge.Clone()
		return out
	}
	if evaluator == nil {
		evaluator = PassAllConditions{}
	}
	if evalCtx.Roles == nil {
		evalCtx.Roles = roles
	}
	if evalCtx.TargetStatus == "" {
		evalCtx.TargetStatus = target
	}
	for _, cond := range edge.Conditions {
		res := evaluator.Evaluate(cond, ticket, evalCtx)
		if res.Pass {
			continue
		}
		msg := strings.TrimSpace(res.Reason)
		if msg == "" {
			msg = fmt.Sprintf("condition %q failed", cond.Type)
		}
		out := deny(scope, ReasonConditionNotMet, "%s", msg)
		out.Edge = edge.Clone()
		return out
	}
	return TransitionDecision{
		Allowed:    true,
		Edge:       edge.Clone(),
		WorkflowID: scope.WorkflowID,
		Version:    scope.Version,
	}
}

// AvailableTransitions checks every edge leaving the ticket's current status.
// Denied edges are included so callers can explain why an option is unavailable.
func AvailableTransitions(scope WorkflowScope, ticket Ticket, roles []string, evaluator ConditionEvaluator, evalCtx ConditionContext) ([]TransitionDecision, error) {
	from, ok := ResolveNode(scope, ticket.Status)
	if !ok {
		return nil, fmt.Errorf("%w: current status %q is not in workflow %s", ErrUnknownStatus, ticket.Status, scope.WorkflowID)
	}
	edges := scope.Graph.EdgesFrom(from.ID)
	out := make([]TransitionDecision, 0, len(edges))
	for _, edge := range edges {
		to, ok := scope.Graph.Node(edge.TargetNodeID)
		if !ok {
			continue
		}
		decision := checkEdge(scope, edge, ticket, roles, evaluator, evalCtx, to.ID)
		decision.From, decision.To = from, to
		out = append(out, decision)
	}
	return out, nil
}

// EffectiveScopeSource reports which tier supplied a ticket's workflow scope.
type EffectiveScopeSource string

// EffectiveScopeSource values.
const (
	ScopeFromSnapshot      EffectiveScopeSource = "snapshot"
	ScopeFromActive        EffectiveScopeSource = "active"
	ScopeFromSystemDefault EffectiveScopeSource = "system_default"
)

// ResolveEffectiveScope picks the graph a ticket is validated against:
// the ticket snapshot, else the live active workflow, else the system default.
func ResolveEffectiveScope(ticket Ticket, active, systemDefault *WorkflowDefinition) (WorkflowScope, EffectiveScopeSource, error) {
	switch {
	case ticket.WorkflowSnapshot != nil:
		return ticket.WorkflowSnapshot.Scope(), ScopeFromSnapshot, nil
	case active != nil:
		return active.Scope(), ScopeFromActive, nil
	case systemDefault != nil:
		return systemDefault.Scope(), ScopeFromSystemDefault, nil
	default:
		return WorkflowScope{}, "", ErrNoWorkflow
	}
}
