package dsl

import "github.com/aretw0/chatflow/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
	// targets holds the destination of each output port; "" leaves it open.
	targets []string
	placed  bool
}

// Trigger marks the node as a trigger on phrase.
func (n *NodeBuilder) Trigger(phrase string) *NodeBuilder {
	n.node.Kind = domain.KindTrigger
	n.node.Payload = domain.TriggerPayload{Phrase: phrase}
	n.targets = make([]string, 1)
	return n
}

// Message marks the node as a plain text message.
func (n *NodeBuilder) Message(text string) *NodeBuilder {
	n.node.Kind = domain.KindMessage
	n.node.Payload = domain.MessagePayload{Text: text}
	n.targets = make([]string, 1)
	return n
}

// Media marks the node as a media attachment.
func (n *NodeBuilder) Media(mediaType, url string) *NodeBuilder {
	n.node.Kind = domain.KindMedia
	n.node.Payload = domain.MediaPayload{MediaType: mediaType, URL: url}
	n.targets = make([]string, 1)
	return n
}

// Caption sets the caption of a media node.
func (n *NodeBuilder) Caption(caption string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.MediaPayload); ok {
		p.Caption = caption
		n.node.Payload = p
	}
	return n
}

// Menu marks the node as a numbered menu. Options are added with Option.
func (n *NodeBuilder) Menu(title string) *NodeBuilder {
	n.node.Kind = domain.KindMenu
	n.node.Payload = domain.MenuPayload{Title: title}
	n.targets = nil
	return n
}

// Option appends a menu option leading to target.
func (n *NodeBuilder) Option(label, target string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.MenuPayload); ok {
		p.Options = append(append([]string(nil), p.Options...), label)
		n.node.Payload = p
		n.targets = append(n.targets, target)
	}
	return n
}

// List marks the node as an interactive list. Rows are added with Row.
func (n *NodeBuilder) List(body string) *NodeBuilder {
	n.node.Kind = domain.KindList
	n.node.Payload = domain.ListPayload{Body: body}
	n.targets = nil
	return n
}

// Title sets the header of a list node.
func (n *NodeBuilder) Title(title string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.ListPayload); ok {
		p.Title = title
		n.node.Payload = p
	}
	return n
}

// Button sets the label of the button that opens a list.
func (n *NodeBuilder) Button(label string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.ListPayload); ok {
		p.Button = label
		n.node.Payload = p
	}
	return n
}

// Footer sets the footer of a list node.
func (n *NodeBuilder) Footer(footer string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.ListPayload); ok {
		p.Footer = footer
		n.node.Payload = p
	}
	return n
}

// Row appends a list row leading to target.
func (n *NodeBuilder) Row(label, description, target string) *NodeBuilder {
	if p, ok := n.node.Payload.(domain.ListPayload); ok {
		p.Rows = append(append([]domain.ListRow(nil), p.Rows...), domain.ListRow{Label: label, Description: description})
		n.node.Payload = p
		n.targets = append(n.targets, target)
	}
	return n
}

// To connects the single output port of a trigger, message or media node to target.
func (n *NodeBuilder) To(target string) *NodeBuilder {
	if len(n.targets) == 1 && !n.node.Kind.Branching() {
		n.targets[0] = target
	}
	return n
}

// At places the node on the editor canvas.
func (n *NodeBuilder) At(x, y float64) *NodeBuilder {
	n.node.Position = domain.Position{X: x, Y: y}
	n.placed = true
	return n
}

// Build returns the underlying domain.Node.
func (n *NodeBuilder) Build() domain.Node {
	return n.node
}
