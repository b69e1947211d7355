package domain

import (
	"regexp"
	"strings"
)

// CompositeStatusPrefix starts a workflow-scoped status reference.
const CompositeStatusPrefix = "workflow-"

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	compositeStatus = regexp.MustCompile(`^workflow-([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})-(.+)$`)
)

// CanonicalStatus uppercases a status and joins whitespace runs with one underscore.
// Leading and trailing whitespace is dropped, so "in progress", "IN_PROGRESS",
// and " In  Progress " share the canonical form IN_PROGRESS.
func CanonicalStatus(status string) string {
	upper := strings.ToUpper(strings.TrimSpace(status))
	return whitespaceRun.ReplaceAllString(upper, "_")
}

// StatusRefKind reports how a status reference was parsed.
type StatusRefKind int

// StatusRefKind values.
const (
	StatusRefBare StatusRefKind = iota
	StatusRefComposite
	StatusRefCompositeFallback
	StatusRefMalformed
)

// StatusRef is a status name optionally scoped to a workflow.
// An empty WorkflowID means the reference belongs to whichever workflow is active.
type StatusRef struct {
	WorkflowID string
	StatusName string
}

// String rebuilds the persisted form of the reference.
func (r StatusRef) String() string {
	if r.WorkflowID == "" {
		return r.StatusName
	}
	return CompositeStatusPrefix + r.WorkflowID + "-" + r.StatusName
}

// Canonical returns the canonical status name.
func (r StatusRef) Canonical() string {
	return CanonicalStatus(r.StatusName)
}

// ParseStatusRef splits a status reference into workflow id and status name.
//
// workflow-<uuid>-<name> yields the uuid and everything after it. Any other
// workflow- prefixed value is split at its last hyphen; when that also fails the
// full string is kept as a bare name and StatusRefMalformed is reported.
func ParseStatusRef(raw string) (StatusRef, StatusRefKind) {
	ref := strings.TrimSpace(raw)
	if !strings.HasPrefix(ref, CompositeStatusPrefix) {
		return StatusRef{StatusName: ref}, StatusRefBare
	}
	if m := compositeStatus.FindStringSubmatch(ref); m != nil {
		return StatusRef{WorkflowID: m[1], StatusName: m[2]}, StatusRefComposite
	}
	rest := strings.TrimPrefix(ref, CompositeStatusPrefix)
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return StatusRef{StatusName: ref}, StatusRefMalformed
	}
	return StatusRef{WorkflowID: rest[:idx], StatusName: rest[idx+1:]}, StatusRefCompositeFallback
}

// ResolveNode finds the node a status string refers to within one workflow scope.
// Node ids are matched before labels. A composite status scoped to another
// workflow never resolves.
func ResolveNode(scope WorkflowScope, status string) (StatusNode, bool) {
	ref, _ := ParseStatusRef(status)
	if ref.WorkflowID != "" && scope.WorkflowID != "" && ref.WorkflowID != scope.WorkflowID {
		return StatusNode{}, false
	}
	want := ref.Canonical()
	if want == "" {
		return StatusNode{}, false
	}
	for _, node := range scope.Graph.Nodes {
		if CanonicalStatus(node.ID) == want {
			return node, true
		}
	}
	for _, node := range scope.Graph.Nodes {
		if node.Label != "" && CanonicalStatus(node.Label) == want {
			return node, true
		}
	}
	return StatusNode{}, false
}

// SameStatus reports whether two status references are equal. Unscoped
// references take scopeWorkflowID before the workflow ids are compared.
func SameStatus(scopeWorkflowID, a, b string) bool {
	left, _ := ParseStatusRef(a)
	right, _ := ParseStatusRef(b)
	if left.WorkflowID == "" {
		left.WorkflowID = scopeWorkflowID
	}
	if right.WorkflowID == "" {
		right.WorkflowID = scopeWorkflowID
	}
	canonical := left.Canonical()
	return canonical != "" && left.WorkflowID == right.WorkflowID && canonical == right.Canonical()
}
