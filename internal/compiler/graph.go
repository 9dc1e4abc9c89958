package compiler

import (
	"fmt"
	"strings"

	"github.com/aretw0/chatflow/pkg/domain"
)

// Normalize trims, lower-cases and collapses inner whitespace.
// Trigger phrases, inbound text and list labels are compared in this form.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TriggerRef pairs a trigger phrase with its node.
type TriggerRef struct {
	Phrase string
	NodeID string
}

// Graph is an immutable, validated view of a flow document.
type Graph struct {
	flowID  string
	version int
	nodes   map[string]*domain.Node
	order   []string
	// outputs[nodeID][port] is the destination node id, "" when unconnected.
	outputs  map[string][]string
	triggers []TriggerRef
}

// FlowID returns the id of the compiled flow.
func (g *Graph) FlowID() string { return g.flowID }

// Version returns the revision of the compiled flow.
func (g *Graph) Version() int { return g.version }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in document order.
func (g *Graph) Nodes() []*domain.Node {
	out := make([]*domain.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// ResolveOutput returns the destination of the given output port.
// The second value is false for terminal (unconnected) ports and unknown nodes.
func (g *Graph) ResolveOutput(nodeID string, port int) (string, bool) {
	outs, ok := g.outputs[nodeID]
	if !ok || port < 0 || port >= len(outs) || outs[port] == "" {
		return "", false
	}
	return outs[port], true
}

// Triggers returns every trigger phrase in document order.
func (g *Graph) Triggers() []TriggerRef {
	return append([]TriggerRef(nil), g.triggers...)
}

// Unreachable returns the non-trigger nodes that no trigger can reach.
func (g *Graph) Unreachable() []string {
	visited := make(map[string]bool, len(g.nodes))
	queue := make([]string, 0, len(g.triggers))
	for _, t := range g.triggers {
		queue = append(queue, t.NodeID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, next := range g.outputs[current] {
			if next != "" && !visited[next] {
				queue = append(queue, next)
			}
		}
	}

	var out []string
	for _, id := range g.order {
		if !visited[id] {
			out = append(out, id)
		}
	}
	return out
}

// Compile validates a flow document and builds its Graph.
// Every violation is collected into a single *domain.MalformedFlowError.
func Compile(flow *domain.Flow) (*Graph, error) {
	if flow == nil {
		return nil, &domain.MalformedFlowError{Problems: []domain.Problem{{Reason: "nil flow document"}}}
	}

	var problems []domain.Problem
	report := func(nodeID, format string, args ...any) {
		problems = append(problems, domain.Problem{NodeID: nodeID, Reason: fmt.Sprintf(format, args...)})
	}

	g := &Graph{
		flowID:  flow.ID,
		version: flow.Version,
		nodes:   make(map[string]*domain.Node, len(flow.Nodes)),
		outputs: make(map[string][]string, len(flow.Nodes)),
	}

	for i := range flow.Nodes {
		n := flow.Nodes[i]
		if n.ID == "" {
			report("", "node at index %d has an empty id", i)
			continue
		}
		if _, dup := g.nodes[n.ID]; dup {
			report(n.ID, "duplicate node id")
			continue
		}
		n.Payload = domain.ClonePayload(n.Payload)
		g.nodes[n.ID] = &n
		g.order = append(g.order, n.ID)

		for _, reason := range checkNode(&n) {
			report(n.ID, "%s", reason)
		}
		g.outputs[n.ID] = make([]string, n.PortCount())

		if tp, ok := n.Payload.(domain.TriggerPayload); ok && n.Kind == domain.KindTrigger {
			g.triggers = append(g.triggers, TriggerRef{Phrase: tp.Phrase, NodeID: n.ID})
		}
	}

	for _, c := range flow.Connections {
		src, ok := g.nodes[c.From]
		if !ok {
			report(c.From, "connection from unknown node")
			continue
		}
		if _, ok := g.nodes[c.To]; !ok {
			report(c.From, "port %d connects to unknown node %q", c.FromPort, c.To)
			continue
		}
		if c.FromPort < 0 || c.FromPort >= src.PortCount() {
			report(c.From, "port %d out of range (node has %d ports)", c.FromPort, src.PortCount())
			continue
		}
		if prev := g.outputs[c.From][c.FromPort]; prev != "" {
			report(c.From, "port %d connected to both %q and %q", c.FromPort, prev, c.To)
			continue
		}
		if dst := g.nodes[c.To]; dst.Kind == domain.KindTrigger {
			report(c.From, "port %d connects to trigger node %q", c.FromPort, c.To)
			continue
		}
		g.outputs[c.From][c.FromPort] = c.To
	}

	if len(problems) > 0 {
		return nil, &domain.MalformedFlowError{FlowID: flow.ID, Problems: problems}
	}
	return g, nil
}

func checkNode(n *domain.Node) []string {
	if !n.Kind.Valid() {
		return []string{fmt.Sprintf("unknown kind %q", n.Kind)}
	}
	if n.Payload == nil {
		return []string{"missing payload"}
	}
	if n.Payload.Kind() != n.Kind {
		return []string{fmt.Sprintf("payload of kind %q on %q node", n.Payload.Kind(), n.Kind)}
	}

	var reasons []string
	switch p := n.Payload.(type) {
	case domain.TriggerPayload:
		if Normalize(p.Phrase) == "" {
			reasons = append(reasons, "trigger phrase is empty")
		}
	case domain.MessagePayload:
		if strings.TrimSpace(p.Text) == "" {
			reasons = append(reasons, "message text is empty")
		}
	case domain.MediaPayload:
		if strings.TrimSpace(p.URL) == "" {
			reasons = append(reasons, "media url is empty")
		}
	case domain.ListPayload:
		if len(p.Rows) == 0 {
			reasons = append(reasons, "list has no rows")
		}
		seen := make(map[string]int, len(p.Rows))
		for i, row := range p.Rows {
			label := Normalize(row.Label)
			if label == "" {
				reasons = append(reasons, fmt.Sprintf("row %d has an empty label", i+1))
				continue
			}
			if first, dup := seen[label]; dup {
				reasons = append(reasons, fmt.Sprintf("rows %d and %d share the label %q", first+1, i+1, row.Label))
				continue
			}
			seen[label] = i
		}
	case domain.MenuPayload:
		if len(p.Options) == 0 {
			reasons = append(reasons, "menu has no options")
		}
		for i, opt := range p.Options {
			if strings.TrimSpace(opt) == "" {
				reasons = append(reasons, fmt.Sprintf("option %d is empty", i+1))
			}
		}
	}
	return reasons
}
