package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// NodeTypeStatus is the node type written for regular status nodes.
const NodeTypeStatus = "statusNode"

// StatusNode is one status in a workflow graph.
type StatusNode struct {
	ID        string
	Type      string
	Label     string
	Color     string
	IsInitial bool
}

// Descriptor is an opaque condition or action entry on a transition edge.
// Type is extracted for dispatch; Raw keeps the persisted JSON verbatim.
type Descriptor struct {
	Type string
	Raw  json.RawMessage
}

// TransitionEdge is one directed transition between two status nodes.
type TransitionEdge struct {
	ID                 string
	SourceNodeID       string
	TargetNodeID       string
	Label              string
	Roles              []string
	Conditions         []Descriptor
	Actions            []Descriptor
	IsCreateTransition bool
}

// Graph holds the status nodes and transition edges of one workflow version.
type Graph struct {
	Nodes []StatusNode
	Edges []TransitionEdge
}

// NewDescriptor builds a descriptor from a type and optional parameters.
func NewDescriptor(typ string, params map[string]any) (Descriptor, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return Descriptor{}, fmt.Errorf("descriptor type is required: %w", ErrInvalidGraph)
	}
	body := map[string]any{}
	for key, value := range params {
		body[key] = value
	}
	body["type"] = typ
	raw, err := json.Marshal(body)
	if err != nil {
		return Descriptor{}, fmt.Errorf("encode descriptor: %w", err)
	}
	return Descriptor{Type: typ, Raw: raw}, nil
}

// MarshalJSON writes the raw descriptor payload.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if len(bytes.TrimSpace(d.Raw)) > 0 {
		return slices.Clone(d.Raw), nil
	}
	return json.Marshal(map[string]string{"type": d.Type})
}

// UnmarshalJSON accepts either an object carrying a "type" key or a bare string.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		d.Type = strings.TrimSpace(name)
		d.Raw = slices.Clone(data)
		return nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	d.Type = strings.TrimSpace(head.Type)
	d.Raw = slices.Clone(data)
	return nil
}

// clone deep-copies the descriptor payload.
func (d Descriptor) clone() Descriptor {
	return Descriptor{Type: d.Type, Raw: slices.Clone(d.Raw)}
}

// nodeWire mirrors the persisted node shape.
type nodeWire struct {
	ID   string       `json:"id"`
	Type string       `json:"type,omitempty"`
	Data nodeDataWire `json:"data"`
}

type nodeDataWire struct {
	Label     string `json:"label"`
	Color     string `json:"color,omitempty"`
	IsInitial bool   `json:"isInitial,omitempty"`
}

// edgeWire mirrors the persisted edge shape.
type edgeWire struct {
	ID     string       `json:"id"`
	Source string       `json:"source"`
	Target string       `json:"target"`
	Data   edgeDataWire `json:"data"`
}

type edgeDataWire struct {
	Label              string       `json:"label,omitempty"`
	Roles              []string     `json:"roles"`
	Conditions         []Descriptor `json:"conditions"`
	Actions            []Descriptor `json:"actions"`
	IsCreateTransition bool         `json:"isCreateTransition"`
}

type graphWire struct {
	Nodes []nodeWire `json:"nodes"`
	Edges []edgeWire `json:"edges"`
}

// MarshalJSON writes the graph in its persisted node/edge shape.
func (g Graph) MarshalJSON() ([]byte, error) {
	wire := graphWire{
		Nodes: make([]nodeWire, 0, len(g.Nodes)),
		Edges: make([]edgeWire, 0, len(g.Edges)),
	}
	for _, node := range g.Nodes {
		wire.Nodes = append(wire.Nodes, nodeWire{
			ID:   node.ID,
			Type: node.Type,
			Data: nodeDataWire{Label: node.Label, Color: node.Color, IsInitial: node.IsInitial},
		})
	}
	for _, edge := range g.Edges {
		wire.Edges = append(wire.Edges, edgeWire{
			ID:     edge.ID,
			Source: edge.SourceNodeID,
			Target: edge.TargetNodeID,
			Data: edgeDataWire{
				Label:              edge.Label,
				Roles:              nonNilStrings(edge.Roles),
				Conditions:         nonNilDescriptors(edge.Conditions),
				Actions:            nonNilDescriptors(edge.Actions),
				IsCreateTransition: edge.IsCreateTransition,
			},
		})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON reads the persisted node/edge shape.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var wire graphWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Graph{
		Nodes: make([]StatusNode, 0, len(wire.Nodes)),
		Edges: make([]TransitionEdge, 0, len(wire.Edges)),
	}
	for _, node := range wire.Nodes {
		out.Nodes = append(out.Nodes, StatusNode{
			ID:        node.ID,
			Type:      node.Type,
			Label:     node.Data.Label,
			Color:     node.Data.Color,
			IsInitial: node.Data.IsInitial,
		})
	}
	for _, edge := range wire.Edges {
		out.Edges = append(out.Edges, TransitionEdge{
			ID:                 edge.ID,
			SourceNodeID:       edge.Source,
			TargetNodeID:       edge.Target,
			Label:              edge.Data.Label,
			Roles:              edge.Data.Roles,
			Conditions:         edge.Data.Conditions,
			Actions:            edge.Data.Actions,
			IsCreateTransition: edge.Data.IsCreateTransition,
		})
	}
	*g = out
	return nil
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: slices.Clone(g.Nodes),
		Edges: make([]TransitionEdge, 0, len(g.Edges)),
	}
	if out.Nodes == nil {
		out.Nodes = []StatusNode{}
	}
	for _, edge := range g.Edges {
		out.Edges = append(out.Edges, edge.Clone())
	}
	return out
}

// Clone returns a deep copy of the edge.
func (e TransitionEdge) Clone() TransitionEdge {
	out := e
	out.Roles = slices.Clone(e.Roles)
	out.Conditions = cloneDescriptors(e.Conditions)
	out.Actions = cloneDescriptors(e.Actions)
	return out
}

// Node returns the node with the exact id.
func (g Graph) Node(id string) (StatusNode, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return StatusNode{}, false
}

// InitialNode returns the node flagged as the creation pseudo-state.
func (g Graph) InitialNode() (StatusNode, bool) {
	for _, node := range g.Nodes {
		if node.IsInitial {
			return node, true
		}
	}
	return StatusNode{}, false
}

// EdgesFrom returns all edges leaving the node, in graph order.
func (g Graph) EdgesFrom(nodeID string) []TransitionEdge {
	out := make([]TransitionEdge, 0)
	for _, edge := range g.Edges {
		if edge.SourceNodeID == nodeID {
			out = append(out, edge)
		}
	}
	return out
}

// Edge returns the first edge connecting source to target. Edges are directed.
func (g Graph) Edge(sourceID, targetID string) (TransitionEdge, bool) {
	for _, edge := range g.Edges {
		if edge.SourceNodeID == sourceID && edge.TargetNodeID == targetID {
			return edge, true
		}
	}
	return TransitionEdge{}, false
}

// Normalize trims identifiers and fills default node types and role sets.
func (g Graph) Normalize() Graph {
	out := g.Clone()
	for i := range out.Nodes {
		out.Nodes[i].ID = strings.TrimSpace(out.Nodes[i].ID)
		out.Nodes[i].Label = strings.TrimSpace(out.Nodes[i].Label)
		out.Nodes[i].Color = strings.TrimSpace(out.Nodes[i].Color)
		if strings.TrimSpace(out.Nodes[i].Type) == "" {
			out.Nodes[i].Type = NodeTypeStatus
		}
		if out.Nodes[i].Label == "" {
			out.Nodes[i].Label = out.Nodes[i].ID
		}
	}
	for i := range out.Edges {
		out.Edges[i].ID = strings.TrimSpace(out.Edges[i].ID)
		out.Edges[i].SourceNodeID = strings.TrimSpace(out.Edges[i].SourceNodeID)
		out.Edges[i].TargetNodeID = strings.TrimSpace(out.Edges[i].TargetNodeID)
		out.Edges[i].Label = strings.TrimSpace(out.Edges[i].Label)
		out.Edges[i].Roles = normalizeRoles(out.Edges[i].Roles)
	}
	return out
}

// Validate checks structural integrity of the graph.
func (g Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes: %w", ErrInvalidGraph)
	}
	nodeIDs := make(map[string]struct{}, len(g.Nodes))
	initialCount := 0
	for idx, node := range g.Nodes {
		id := strings.TrimSpace(node.ID)
		if id == "" {
			return fmt.Errorf("nodes[%d].id is required: %w", idx, ErrInvalidGraph)
		}
		if _, ok := nodeIDs[id]; ok {
			return fmt.Errorf("nodes[%d].id is duplicated: %s: %w", idx, id, ErrInvalidGraph)
		}
		nodeIDs[id] = struct{}{}
		if node.IsInitial {
			initialCount++
		}
	}
	if initialCount > 1 {
		return fmt.Errorf("graph has %d initial nodes: %w", initialCount, ErrInvalidGraph)
	}
	edgeIDs := make(map[string]struct{}, len(g.Edges))
	for idx, edge := range g.Edges {
		id := strings.TrimSpace(edge.ID)
		if id == "" {
			return fmt.Errorf("edges[%d].id is required: %w", idx, ErrInvalidGraph)
		}
		if _, ok := edgeIDs[id]; ok {
			return fmt.Errorf("edges[%d].id is duplicated: %s: %w", idx, id, ErrInvalidGraph)
		}
		edgeIDs[id] = struct{}{}
		if _, ok := nodeIDs[strings.TrimSpace(edge.SourceNodeID)]; !ok {
			return fmt.Errorf("edges[%d].source references unknown node %q: %w", idx, edge.SourceNodeID, ErrInvalidGraph)
		}
		if _, ok := nodeIDs[strings.TrimSpace(edge.TargetNodeID)]; !ok {
			return fmt.Errorf("edges[%d].target references unknown node %q: %w", idx, edge.TargetNodeID, ErrInvalidGraph)
		}
	}
	return nil
}

// normalizeRoles trims, drops empties, and de-duplicates role identifiers.
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := map[string]struct{}{}
	for _, raw := range roles {
		role := strings.TrimSpace(raw)
		if role == "" {
			continue
		}
		key := strings.ToUpper(role)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, role)
	}
	return out
}

func cloneDescriptors(in []Descriptor) []Descriptor {
	if in == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(in))
	for _, d := range in {
		out = append(out, d.clone())
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilDescriptors(in []Descriptor) []Descriptor {
	if in == nil {
		return []Descriptor{}
	}
	return in
}
