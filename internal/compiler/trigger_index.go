package compiler

import (
	"fmt"

	"github.com/aretw0/chatflow/pkg/domain"
)

// TriggerIndex maps normalized trigger phrases to trigger node ids.
type TriggerIndex struct {
	phrases map[string]string
}

// BuildTriggerIndex indexes every trigger of g. Two triggers whose phrases
// normalize to the same text make the flow malformed.
func BuildTriggerIndex(g *Graph) (*TriggerIndex, error) {
	idx := &TriggerIndex{phrases: make(map[string]string, len(g.triggers))}

	var problems []domain.Problem
	for _, t := range g.triggers {
		key := Normalize(t.Phrase)
		if owner, dup := idx.phrases[key]; dup {
			problems = append(problems, domain.Problem{
				NodeID: t.NodeID,
				Reason: fmt.Sprintf("trigger phrase %q already used by node %q", key, owner),
			})
			continue
		}
		idx.phrases[key] = t.NodeID
	}

	if len(problems) > 0 {
		return nil, &domain.MalformedFlowError{FlowID: g.flowID, Problems: problems}
	}
	return idx, nil
}

// Lookup returns the trigger node whose phrase equals the normalized text.
func (i *TriggerIndex) Lookup(text string) (string, bool) {
	if i == nil {
		return "", false
	}
	id, ok := i.phrases[Normalize(text)]
	return id, ok
}

// Len returns the number of indexed phrases.
func (i *TriggerIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.phrases)
}
