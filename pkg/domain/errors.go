package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedFlow is returned when a flow document fails structural validation.
	// It is fatal to activation, never to a running session.
	ErrMalformedFlow = errors.New("malformed flow")

	// ErrFlowCycleOverflow is returned when the auto-advance chain exceeds the hop cap.
	ErrFlowCycleOverflow = errors.New("flow cycle overflow")

	// ErrFlowInUse is returned when deleting or mutating the active flow.
	ErrFlowInUse = errors.New("flow in use")

	// ErrRenderDispatch is returned when the transport fails to deliver an action.
	ErrRenderDispatch = errors.New("render dispatch failure")

	// ErrFlowNotFound is returned when a flow id cannot be found in the store.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrNoActiveFlow is returned when an operation needs the live flow and none is active.
	ErrNoActiveFlow = errors.New("no active flow")

	// ErrSessionNotFound is returned by session stores when a chat has no session.
	// The engine never surfaces it: absence means "start fresh".
	ErrSessionNotFound = errors.New("session not found")
)

// Problem is a single structural violation found while validating a flow.
type Problem struct {
	NodeID string
	Reason string
}

func (p Problem) String() string {
	if p.NodeID == "" {
		return p.Reason
	}
	return fmt.Sprintf("node %q: %s", p.NodeID, p.Reason)
}

// MalformedFlowError aggregates every violation found in a flow document.
type MalformedFlowError struct {
	FlowID   string
	Problems []Problem
}

func (e *MalformedFlowError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("malformed flow %q: %s", e.FlowID, e.Problems[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "malformed flow %q: %d problems:", e.FlowID, len(e.Problems))
	for i, p := range e.Problems {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, p)
	}
	return sb.String()
}

func (e *MalformedFlowError) Unwrap() error {
	return ErrMalformedFlow
}

// CycleOverflowError reports a chat whose auto-advance chain hit the hop cap.
// The offending session is forced back to idle.
type CycleOverflowError struct {
	ChatID string
	FlowID string
	NodeID string
	Hops   int
}

func (e *CycleOverflowError) Error() string {
	return fmt.Sprintf("chat %q: flow %q exceeded %d automatic hops at node %q", e.ChatID, e.FlowID, e.Hops, e.NodeID)
}

func (e *CycleOverflowError) Unwrap() error {
	return ErrFlowCycleOverflow
}

// DispatchError wraps a transport failure for a single outbound action.
type DispatchError struct {
	ChatID string
	FlowID string
	NodeID string
	ActionType ActionType
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to chat %q (flow %q, node %q): %v", e.ActionType, e.ChatID, e.FlowID, e.NodeID, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrRenderDispatch, e.Err}
}
