package app

import (
	"strings"
	"time"

	"github.com/hylla/ticketflow/internal/domain"
)

// SystemDefaultWorkflow describes the seed workflow created for every tenant.
type SystemDefaultWorkflow struct {
	Name            string
	Graph           domain.Graph
	WorkingStatuses []string
	DoneStatuses    []string
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	SystemDefault SystemDefaultWorkflow
	Evaluator     domain.ConditionEvaluator
	Dispatcher    ActionDispatcher
	Logger        Logger
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates workflow definitions, ticket transitions, and snapshot maintenance.
type Service struct {
	repo          Repository
	idGen         IDGenerator
	clock         Clock
	systemDefault SystemDefaultWorkflow
	evaluator     domain.ConditionEvaluator
	dispatcher    ActionDispatcher
	log           Logger
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if len(cfg.SystemDefault.Graph.Nodes) == 0 {
		cfg.SystemDefault = DefaultSystemWorkflow()
	}
	if strings.TrimSpace(cfg.SystemDefault.Name) == "" {
		cfg.SystemDefault.Name = "Default"
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = domain.PassAllConditions{}
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = noopDispatcher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Service{
		repo:          repo,
		idGen:         idGen,
		clock:         clock,
		systemDefault: cfg.SystemDefault,
		evaluator:     cfg.Evaluator,
		dispatcher:    cfg.Dispatcher,
		log:           cfg.Logger,
	}
}

// InitialNodeID is the id of the virtual creation node in generated workflows.
const InitialNodeID = "__initial__"

// StatusTemplate describes one status of a linear seed workflow.
type StatusTemplate struct {
	ID      string
	Label   string
	Color   string
	Working bool
	Done    bool
}

// BuildLinearWorkflow turns an ordered status list into a seed workflow: a create
// edge from the initial node to the first status, then one edge per consecutive pair.
func BuildLinearWorkflow(name string, statuses []StatusTemplate, createRoles, transitionRoles []string) SystemDefaultWorkflow {
	out := SystemDefaultWorkflow{
		Name:            name,
		WorkingStatuses: []string{},
		DoneStatuses:    []string{},
	}
	out.Graph.Nodes = append(out.Graph.Nodes, domain.StatusNode{ID: InitialNodeID, Label: "Create", IsInitial: true})
	prev := ""
	for _, st := range statuses {
		id := strings.TrimSpace(st.ID)
		if id == "" {
			continue
		}
		out.Graph.Nodes = append(out.Graph.Nodes, domain.StatusNode{ID: id, Label: st.Label, Color: st.Color})
		if prev == "" {
			out.Graph.Edges = append(out.Graph.Edges, domain.TransitionEdge{
				ID:                 "create",
				SourceNodeID:       InitialNodeID,
				TargetNodeID:       id,
				Label:              "Create",
				Roles:              append([]string(nil), createRoles...),
				IsCreateTransition: true,
			})
		} else {
			out.Graph.Edges = append(out.Graph.Edges, domain.TransitionEdge{
				ID:           prev + "-" + id,
				SourceNodeID: prev,
				TargetNodeID: id,
				Roles:        append([]string(nil), transitionRoles...),
			})
		}
		if st.Working {
			out.WorkingStatuses = append(out.WorkingStatuses, domain.CanonicalStatus(id))
		}
		if st.Done {
			out.DoneStatuses = append(out.DoneStatuses, domain.CanonicalStatus(id))
		}
		prev = id
	}
	return out
}

// DefaultStatusTemplates returns the built-in status chain.
func DefaultStatusTemplates() []StatusTemplate {
	return []StatusTemplate{
		{ID: "new", Label: "New", Color: "#9e9e9e", Working: true},
		{ID: "open", Label: "Open", Color: "#2196f3", Working: true},
		{ID: "in_progress", Label: "In Progress", Color: "#ff9800", Working: true},
		{ID: "resolved", Label: "Resolved", Color: "#4caf50", Done: true},
		{ID: "closed", Label: "Closed", Color: "#607d8b", Done: true},
	}
}

// DefaultSystemWorkflow returns the built-in seed workflow.
func DefaultSystemWorkflow() SystemDefaultWorkflow {
	return BuildLinearWorkflow(
		"Default",
		DefaultStatusTemplates(),
		[]string{"ADMIN", "AGENT", "CUSTOMER"},
		[]string{"ADMIN", "AGENT"},
	)
}
