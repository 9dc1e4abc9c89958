package dsl

import (
	"fmt"

	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/aretw0/chatflow/pkg/domain"
)

// Builder manages the flow construction.
type Builder struct {
	id    string
	name  string
	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new flow builder.
func New(id, name string) *Builder {
	return &Builder{
		id:    id,
		name:  name,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the flow.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.Node{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Trigger adds a trigger node starting the flow on phrase.
func (b *Builder) Trigger(id, phrase string) *NodeBuilder {
	return b.Add(id).Trigger(phrase)
}

// Message adds a plain text node.
func (b *Builder) Message(id, text string) *NodeBuilder {
	return b.Add(id).Message(text)
}

// Menu adds a numbered menu node titled title.
func (b *Builder) Menu(id, title string) *NodeBuilder {
	return b.Add(id).Menu(title)
}

// List adds an interactive list node.
func (b *Builder) List(id, body string) *NodeBuilder {
	return b.Add(id).List(body)
}

// Media adds a media node.
func (b *Builder) Media(id, mediaType, url string) *NodeBuilder {
	return b.Add(id).Media(mediaType, url)
}

// Flow assembles the document without validating it.
// Nodes keep the order they were added in; unplaced nodes are stacked vertically.
func (b *Builder) Flow() *domain.Flow {
	flow := &domain.Flow{ID: b.id, Name: b.name}
	for i, id := range b.order {
		nb := b.nodes[id]
		node := nb.node
		if !nb.placed {
			node.Position = domain.Position{X: 0, Y: float64(i * 120)}
		}
		flow.Nodes = append(flow.Nodes, node)
		for port, target := range nb.targets {
			if target == "" {
				continue
			}
			flow.Connections = append(flow.Connections, domain.Connection{From: id, FromPort: port, To: target})
		}
	}
	return flow
}

// Build assembles the document and compiles it, so structural problems
// surface as a *domain.MalformedFlowError.
func (b *Builder) Build() (*domain.Flow, error) {
	flow := b.Flow()
	if _, err := compiler.Build(flow); err != nil {
		return nil, fmt.Errorf("failed to build flow %q: %w", b.id, err)
	}
	return flow, nil
}
