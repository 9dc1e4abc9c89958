package domain

import "time"

// Connection links an output port of one node to another node.
type Connection struct {
	From     string `json:"from" validate:"required"`
	FromPort int    `json:"from_port" validate:"gte=0"`
	To       string `json:"to" validate:"required"`
}

// Flow is the document produced by the editor: a directed graph of nodes.
// At most one flow is active across the store at any time.
type Flow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name" validate:"required"`
	Version     int          `json:"version"`
	Active      bool         `json:"active"`
	Nodes       []Node       `json:"nodes" validate:"dive"`
	Connections []Connection `json:"connections" validate:"dive"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// FlowSummary is the lightweight listing view of a flow.
type FlowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the listing view of f.
func (f *Flow) Summary() FlowSummary {
	return FlowSummary{
		ID:        f.ID,
		Name:      f.Name,
		Version:   f.Version,
		Active:    f.Active,
		UpdatedAt: f.UpdatedAt,
	}
}

// Clone returns a deep copy of the flow.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	out := *f
	out.Nodes = make([]Node, len(f.Nodes))
	for i, n := range f.Nodes {
		n.Payload = ClonePayload(n.Payload)
		out.Nodes[i] = n
	}
	out.Connections = append([]Connection(nil), f.Connections...)
	return &out
}
