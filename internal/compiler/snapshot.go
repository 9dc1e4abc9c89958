package compiler

import "github.com/aretw0/chatflow/pkg/domain"

// Snapshot is the immutable runtime view of one flow revision:
// the document, its validated graph and its trigger index.
type Snapshot struct {
	Flow  *domain.Flow
	Graph *Graph
	Index *TriggerIndex
}

// Build compiles flow and indexes its triggers.
// The snapshot owns a private copy of the document.
func Build(flow *domain.Flow) (*Snapshot, error) {
	g, err := Compile(flow)
	if err != nil {
		return nil, err
	}
	idx, err := BuildTriggerIndex(g)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Flow: flow.Clone(), Graph: g, Index: idx}, nil
}

// FlowID returns the id of the snapshot's flow, or "" for a nil snapshot.
func (s *Snapshot) FlowID() string {
	if s == nil {
		return ""
	}
	return s.Flow.ID
}

// Version returns the revision of the snapshot's flow, or 0 for a nil snapshot.
func (s *Snapshot) Version() int {
	if s == nil {
		return 0
	}
	return s.Flow.Version
}
