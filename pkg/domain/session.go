package domain

import "time"

// DefaultHistoryLimit caps the number of node ids kept in Session.History.
const DefaultHistoryLimit = 50

// SessionStatus is the derived conversation state of a chat.
type SessionStatus string

const (
	// StatusIdle means the chat is not inside a flow.
	StatusIdle SessionStatus = "idle"
	// StatusAwaitingEntry is the transient state between trigger match and first render.
	StatusAwaitingEntry SessionStatus = "awaiting_entry"
	// StatusAtNode means the chat is parked at a branching node waiting for a reply.
	StatusAtNode SessionStatus = "at_node"
)

// Session is the per-chat cursor into the active flow.
type Session struct {
	ChatID         string    `json:"chat_id"`
	FlowID         string    `json:"flow_id,omitempty"`
	FlowVersion    int       `json:"flow_version,omitempty"`
	CurrentNodeID  string    `json:"current_node_id,omitempty"`
	History        []string  `json:"history,omitempty"`
	AwaitingReply  bool      `json:"awaiting_reply"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewSession creates an idle session for chatID.
func NewSession(chatID string, now time.Time) *Session {
	return &Session{
		ChatID:         chatID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Status derives the conversation state from the cursor.
func (s *Session) Status() SessionStatus {
	switch {
	case s.CurrentNodeID == "":
		return StatusIdle
	case s.AwaitingReply:
		return StatusAtNode
	default:
		return StatusAwaitingEntry
	}
}

// BoundTo reports whether the session belongs to the given flow revision.
func (s *Session) BoundTo(flowID string, version int) bool {
	return s.FlowID == flowID && s.FlowVersion == version
}

// Start binds the session to a flow revision and clears any previous cursor.
func (s *Session) Start(flowID string, version int, nodeID string) {
	s.FlowID = flowID
	s.FlowVersion = version
	s.CurrentNodeID = nodeID
	s.AwaitingReply = false
	s.History = nil
}

// Park leaves the cursor at nodeID waiting for the user's reply.
func (s *Session) Park(nodeID string) {
	s.CurrentNodeID = nodeID
	s.AwaitingReply = true
}

// Reset returns the session to idle. Flow binding and history are kept for inspection.
func (s *Session) Reset() {
	s.CurrentNodeID = ""
	s.AwaitingReply = false
}

// Visit appends nodeID to the history, dropping the oldest entries beyond limit.
func (s *Session) Visit(nodeID string, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.History = append(s.History, nodeID)
	if over := len(s.History) - limit; over > 0 {
		s.History = append([]string(nil), s.History[over:]...)
	}
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]string(nil), s.History...)
	return &out
}
