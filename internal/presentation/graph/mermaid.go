package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/chatflow/pkg/domain"
)

const maxLabel = 32

// Overlay contains session state to highlight on the graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFor builds the overlay of a chat session.
func OverlayFor(s *domain.Session) *Overlay {
	if s == nil {
		return nil
	}
	return &Overlay{VisitedNodes: s.History, CurrentNode: s.CurrentNodeID}
}

// GenerateMermaid produces a Mermaid flowchart of a flow.
// Shapes follow the node kind:
//   - Trigger: ((Circle)) labelled with the phrase
//   - Message: [Rectangle]
//   - Media: [/Parallelogram/]
//   - List, Menu: {Rhombus}, with one labelled edge per connected row or option
func GenerateMermaid(flow *domain.Flow, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range flow.Nodes {
		opener, closer := "[", "]"
		switch node.Kind {
		case domain.KindTrigger:
			opener, closer = "((", "))"
		case domain.KindMedia:
			opener, closer = "[/", "/]"
		case domain.KindList, domain.KindMenu:
			opener, closer = "{", "}"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(node.ID), opener, nodeLabel(node), closer)
	}

	ports := portLabels(flow)
	for _, c := range flow.Connections {
		from, to := sanitizeMermaidID(c.From), sanitizeMermaidID(c.To)
		if label, ok := ports[portKey{c.From, c.FromPort}]; ok {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escape(label), to)
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !seen[safeID] {
				seen[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

type portKey struct {
	node string
	port int
}

// portLabels maps the output ports of branching nodes to their row label or option text.
func portLabels(flow *domain.Flow) map[portKey]string {
	out := make(map[portKey]string)
	for _, n := range flow.Nodes {
		switch p := n.Payload.(type) {
		case domain.ListPayload:
			for i, row := range p.Rows {
				out[portKey{n.ID, i}] = row.Label
			}
		case domain.MenuPayload:
			for i, opt := range p.Options {
				out[portKey{n.ID, i}] = fmt.Sprintf("%d. %s", i+1, opt)
			}
		}
	}
	return out
}

func nodeLabel(n domain.Node) string {
	var summary string
	switch p := n.Payload.(type) {
	case domain.TriggerPayload:
		summary = p.Phrase
	case domain.MessagePayload:
		summary = p.Text
	case domain.MediaPayload:
		summary = p.MediaType
	case domain.ListPayload:
		summary = p.Title
	case domain.MenuPayload:
		summary = p.Title
	}
	summary = truncate(strings.Join(strings.Fields(summary), " "), maxLabel)
	if summary == "" {
		return escape(n.ID)
	}
	return escape(n.ID + ": " + summary)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
