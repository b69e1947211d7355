package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/hylla/ticketflow/internal/domain"
)

// fallbackBadgeColor is used for status nodes without a color.
const fallbackBadgeColor = "#5f5f87"

// renderWorkflowSummary writes one workflow with colored status badges.
func renderWorkflowSummary(out io.Writer, def domain.WorkflowDefinition) error {
	r := lipgloss.NewRenderer(out)
	title := r.NewStyle().Bold(true)
	muted := r.NewStyle().Foreground(lipgloss.Color("241"))
	buckets := domain.Bucketize(def)

	var b strings.Builder
	flags := []string{string(def.Status)}
	if def.IsSystemDefault {
		flags = append(flags, "system-default")
	}
	if def.IsDefault {
		flags = append(flags, "default")
	}
	fmt.Fprintf(&b, "%s %s\n", title.Render(fmt.Sprintf("%s v%d", def.Name, def.Version)), muted.Render("["+strings.Join(flags, ", ")+"]"))
	fmt.Fprintf(&b, "%s\n", muted.Render("id: "+def.ID+"  tenant: "+def.TenantID))

	b.WriteString("\nstatuses\n")
	for _, node := range def.Graph.Nodes {
		if node.IsInitial {
			continue
		}
		color := strings.TrimSpace(node.Color)
		if color == "" {
			color = fallbackBadgeColor
		}
		badge := r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color(color)).
			Padding(0, 1).
			Render(statusLabel(node))
		fmt.Fprintf(&b, "  %s %s %s\n", badge, node.ID, muted.Render(string(buckets.Classify("", node.ID))))
	}

	b.WriteString("\ntransitions\n")
	for _, edge := range def.Graph.Edges {
		line := fmt.Sprintf("  %s -> %s", edgeEndpoint(def.Graph, edge.SourceNodeID), edgeEndpoint(def.Graph, edge.TargetNodeID))
		if edge.IsCreateTransition {
			line += " (create)"
		}
		fmt.Fprintf(&b, "%s %s\n", line, muted.Render("roles: "+rolesText(edge.Roles)))
	}
	_, err := io.WriteString(out, b.String())
	return err
}

// describeWorkflowMarkdown renders one workflow as a markdown document.
func describeWorkflowMarkdown(def domain.WorkflowDefinition) string {
	buckets := domain.Bucketize(def)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (v%d)\n\n", def.Name, def.Version)
	fmt.Fprintf(&b, "- **ID:** `%s`\n- **Tenant:** `%s`\n- **Status:** %s\n", def.ID, def.TenantID, def.Status)
	if def.IsSystemDefault {
		b.WriteString("- **System default:** yes\n")
	}

	b.WriteString("\n## Statuses\n\n| ID | Label | Bucket |\n|---|---|---|\n")
	for _, node := range def.Graph.Nodes {
		if node.IsInitial {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", node.ID, statusLabel(node), buckets.Classify("", node.ID))
	}

	b.WriteString("\n## Transitions\n\n| Edge | From | To | Roles | Conditions | Actions |\n|---|---|---|---|---|---|\n")
	for _, edge := range def.Graph.Edges {
		name := edge.ID
		if edge.IsCreateTransition {
			name += " *(create)*"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			name,
			edgeEndpoint(def.Graph, edge.SourceNodeID),
			edgeEndpoint(def.Graph, edge.TargetNodeID),
			rolesText(edge.Roles),
			descriptorTypes(edge.Conditions),
			descriptorTypes(edge.Actions),
		)
	}
	return b.String()
}

// renderMarkdown converts markdown into ANSI-styled terminal text. Renderer failures return the input.
func renderMarkdown(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	if width < 40 {
		width = 40
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

func statusLabel(node domain.StatusNode) string {
	if label := strings.TrimSpace(node.Label); label != "" {
		return label
	}
	return node.ID
}

func edgeEndpoint(g domain.Graph, nodeID string) string {
	node, ok := g.Node(nodeID)
	if !ok {
		return nodeID
	}
	if node.IsInitial {
		return "(start)"
	}
	return node.ID
}

func rolesText(roles []string) string {
	if len(roles) == 0 {
		return "none"
	}
	return strings.Join(roles, ", ")
}

func descriptorTypes(ds []domain.Descriptor) string {
	if len(ds) == 0 {
		return "-"
	}
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Type)
	}
	return strings.Join(out, ", ")
}
