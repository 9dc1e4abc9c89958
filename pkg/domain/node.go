package domain

import (
	"encoding/json"
	"fmt"
)

// NodeKind is the closed set of vertex types a flow may contain.
type NodeKind string

const (
	// KindTrigger marks an entry point matched against inbound text. Never rendered.
	KindTrigger NodeKind = "trigger"
	// KindMessage sends a text and advances automatically.
	KindMessage NodeKind = "message"
	// KindList sends an interactive list and waits for a row selection.
	KindList NodeKind = "list"
	// KindMenu sends a numbered text menu and waits for a numeric selection.
	KindMenu NodeKind = "menu"
	// KindMedia sends a media file with caption and advances automatically.
	KindMedia NodeKind = "media"
)

// Valid reports whether k is one of the known kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindTrigger, KindMessage, KindList, KindMenu, KindMedia:
		return true
	}
	return false
}

// Branching reports whether a node of this kind halts the render loop waiting for a reply.
func (k NodeKind) Branching() bool {
	return k == KindList || k == KindMenu
}

// Position holds editor canvas coordinates. The engine never reads them.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex in the flow graph.
type Node struct {
	ID       string   `json:"id" validate:"required"`
	Kind     NodeKind `json:"kind" validate:"required,oneof=trigger message list menu media"`
	Payload  Payload  `json:"-"`
	Position Position `json:"position"`
}

// PortCount returns the number of output ports the node exposes.
// A node without payload exposes none.
func (n *Node) PortCount() int {
	if n.Payload == nil {
		return 0
	}
	return n.Payload.PortCount()
}

type nodeJSON struct {
	ID       string         `json:"id"`
	Kind     NodeKind       `json:"kind"`
	Data     map[string]any `json:"data"`
	Position Position       `json:"position"`
}

// MarshalJSON encodes the node in the editor transfer format, with the payload under "data".
func (n Node) MarshalJSON() ([]byte, error) {
	out := struct {
		ID       string   `json:"id"`
		Kind     NodeKind `json:"kind"`
		Data     Payload  `json:"data"`
		Position Position `json:"position"`
	}{
		ID:       n.ID,
		Kind:     n.Kind,
		Data:     n.Payload,
		Position: n.Position,
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the transfer format, resolving "data" into the kind's payload type.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := DecodePayload(raw.Kind, raw.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", raw.ID, err)
	}

	n.ID = raw.ID
	n.Kind = raw.Kind
	n.Payload = payload
	n.Position = raw.Position
	return nil
}
