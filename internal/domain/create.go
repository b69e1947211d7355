package domain

import "strings"

// FindCreateEdge returns the edge that represents ticket creation.
// An edge flagged IsCreateTransition wins; otherwise the first edge leaving the
// node flagged IsInitial is used for graphs authored before the flag existed.
func FindCreateEdge(g Graph) (TransitionEdge, bool) {
	for _, edge := range g.Edges {
		if edge.IsCreateTransition {
			return edge, true
		}
	}
	initial, ok := g.InitialNode()
	if !ok {
		return TransitionEdge{}, false
	}
	for _, edge := range g.Edges {
		if edge.SourceNodeID == initial.ID {
			return edge, true
		}
	}
	return TransitionEdge{}, false
}

// RolesAllowedToCreate returns the roles on the create edge.
// An empty result means nobody may create tickets under the graph.
func RolesAllowedToCreate(g Graph) []string {
	edge, ok := FindCreateEdge(g)
	if !ok {
		return []string{}
	}
	return normalizeRoles(edge.Roles)
}

// CanCreate reports whether any acting role may create tickets under the graph.
func CanCreate(g Graph, actingRoles []string) bool {
	return rolesIntersect(RolesAllowedToCreate(g), actingRoles)
}

// rolesIntersect reports whether the sets share a role. Roles compare case-insensitively.
// An empty allowed set never intersects.
func rolesIntersect(allowed, acting []string) bool {
	if len(allowed) == 0 || len(acting) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			set[role] = struct{}{}
		}
	}
	for _, role := range acting {
		if _, ok := set[strings.ToUpper(strings.TrimSpace(role))]; ok {
			return true
		}
	}
	return false
}
