// Package rules provides the built-in condition evaluator and action dispatcher
// for workflow transition edges.
package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/ticketflow/internal/app"
	"github.com/hylla/ticketflow/internal/domain"
)

// Condition types understood by Evaluator.
const (
	ConditionRequireAssignee = "require_assignee"
	ConditionPriorityIn      = "priority_in"
	ConditionActorNotCreator = "actor_not_creator"
)

// Action types understood by Dispatcher.
const (
	ActionNotify = "notify"
	ActionAssign = "assign"
)

// ErrInvalidDescriptor reports a descriptor whose parameters cannot be used.
var ErrInvalidDescriptor = errors.New("invalid rule descriptor")

// params is the parameter payload shared by the built-in descriptors.
type params struct {
	Values     []string `json:"values"`
	AssigneeID string   `json:"assignee_id"`
	Message    string   `json:"message"`
	Channel    string   `json:"channel"`
}

// decodeParams reads the descriptor body. Bare-string descriptors carry no parameters.
func decodeParams(d domain.Descriptor) (params, error) {
	var out params
	raw := bytes.TrimSpace(d.Raw)
	if len(raw) == 0 || raw[0] != '{' {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return params{}, fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, d.Type, err)
	}
	return out, nil
}

// Evaluator evaluates the built-in condition types. Unknown types fail closed.
type Evaluator struct{}

// NewEvaluator constructs the built-in condition evaluator.
func NewEvaluator() Evaluator {
	return Evaluator{}
}

// Evaluate implements domain.ConditionEvaluator.
func (Evaluator) Evaluate(cond domain.Descriptor, ticket domain.Ticket, evalCtx domain.ConditionContext) domain.ConditionResult {
	p, err := decodeParams(cond)
	if err != nil {
		return domain.ConditionResult{Reason: err.Error()}
	}
	switch strings.ToLower(strings.TrimSpace(cond.Type)) {
	case ConditionRequireAssignee:
		if strings.TrimSpace(ticket.AssigneeID) == "" {
			return domain.ConditionResult{Reason: "ticket has no assignee"}
		}
		return domain.ConditionResult{Pass: true}
	case ConditionPriorityIn:
		if len(p.Values) == 0 {
			return domain.ConditionResult{Reason: "priority_in requires values"}
		}
		priority := strings.ToLower(string(ticket.Priority))
		if slices.ContainsFunc(p.Values, func(v string) bool {
			return strings.ToLower(strings.TrimSpace(v)) == priority
		}) {
			return domain.ConditionResult{Pass: true}
		}
		return domain.ConditionResult{Reason: fmt.Sprintf("priority %q not in %s", ticket.Priority, strings.Join(p.Values, ","))}
	case ConditionActorNotCreator:
		actor := strings.TrimSpace(evalCtx.ActorID)
		if actor != "" && actor == strings.TrimSpace(ticket.CreatedBy) {
			return domain.ConditionResult{Reason: "actor created the ticket"}
		}
		return domain.ConditionResult{Pass: true}
	default:
		return domain.ConditionResult{Reason: fmt.Sprintf("unknown condition type %q", cond.Type)}
	}
}

// Dispatcher executes the built-in action types.
type Dispatcher struct {
	log app.Logger
}

// NewDispatcher constructs the built-in action dispatcher.
func NewDispatcher(logger app.Logger) *Dispatcher {
	return &Dispatcher{log: logger}
}

// Dispatch implements app.ActionDispatcher. Unknown types are logged and skipped.
func (d *Dispatcher) Dispatch(_ context.Context, action domain.Descriptor, ticket domain.Ticket, actx app.ActionContext) (app.ActionOutcome, error) {
	p, err := decodeParams(action)
	if err != nil {
		return app.ActionOutcome{}, err
	}
	switch strings.ToLower(strings.TrimSpace(action.Type)) {
	case ActionNotify:
		channel := strings.TrimSpace(p.Channel)
		if channel == "" {
			channel = "default"
		}
		d.logInfo("workflow notification",
			"ticket_id", ticket.ID,
			"tenant_id", ticket.TenantID,
			"channel", channel,
			"from", actx.FromStatus,
			"to", actx.ToStatus,
			"message", p.Message,
		)
		return app.ActionOutcome{Summary: "notified " + channel}, nil
	case ActionAssign:
		assignee := strings.TrimSpace(p.AssigneeID)
		if assignee == "" {
			return app.ActionOutcome{}, fmt.Errorf("%w: assign requires assignee_id", ErrInvalidDescriptor)
		}
		return app.ActionOutcome{Summary: "assigned " + assignee, AssigneeID: &assignee}, nil
	default:
		if d.log != nil {
			d.log.Warn("skipping unknown workflow action", "ticket_id", ticket.ID, "edge_id", actx.EdgeID, "action", action.Type)
		}
		return app.ActionOutcome{Summary: "skipped"}, nil
	}
}

func (d *Dispatcher) logInfo(msg string, keyvals ...any) {
	if d.log == nil {
		return
	}
	d.log.Info(msg, keyvals...)
}
