// Package proto defines the workflow phases, agent identifiers, review-loop
// messages, and artifact types exchanged between the orchestrator and agents.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MsgType distinguishes the messages of the agent-to-agent review loop.
type MsgType string

const (
	MsgTypePROPOSAL MsgType = "PROPOSAL"         // An agent proposes an artifact for review
	MsgTypeAPPROVAL MsgType = "APPROVAL"         // Reviewer accepts the artifact; phase advances
	MsgTypeREVISION MsgType = "REVISION_REQUEST" // Reviewer rejects; stay in phase with feedback
)

// ValidateMsgType validates if a string is a valid review message type.
func ValidateMsgType(s string) (MsgType, bool) {
	switch MsgType(s) {
	case MsgTypePROPOSAL, MsgTypeAPPROVAL, MsgTypeREVISION:
		return MsgType(s), true
	default:
		return "", false
	}
}

// ParseMsgType parses a string into a MsgType with validation.
func ParseMsgType(s string) (MsgType, error) {
	if t, ok := ValidateMsgType(strings.ToUpper(s)); ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown message type: %s", s)
}

// String returns the string representation of MsgType.
func (t MsgType) String() string {
	return string(t)
}

// ReviewMessage is one message of the proposal/approval/revision cycle.
// Every message references the turn that produced the artifact under review.
type ReviewMessage struct {
	ID        string         `json:"id"`
	Type      MsgType        `json:"type"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	TurnID    string         `json:"turn_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Feedback  string         `json:"feedback,omitempty"` // Populated on REVISION_REQUEST
}

// NewReviewMessage creates a review message with a fresh ID and UTC timestamp.
func NewReviewMessage(msgType MsgType, fromAgent, toAgent, turnID string) *ReviewMessage {
	return &ReviewMessage{
		ID:        uuid.NewString(),
		Type:      msgType,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		TurnID:    turnID,
		Timestamp: time.Now().UTC(),
		Payload:   make(map[string]any),
	}
}

// SetPayload stores a value under the given payload key.
func (m *ReviewMessage) SetPayload(key string, value any) {
	if m.Payload == nil {
		m.Payload = make(map[string]any)
	}
	m.Payload[key] = value
}

// GetPayload retrieves a value by payload key.
func (m *ReviewMessage) GetPayload(key string) (any, bool) {
	if m.Payload == nil {
		return nil, false
	}
	val, exists := m.Payload[key]
	return val, exists
}

// Validate checks the structural invariants of a review message.
func (m *ReviewMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID is required")
	}
	if _, ok := ValidateMsgType(string(m.Type)); !ok {
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	if m.FromAgent == "" {
		return fmt.Errorf("from_agent is required")
	}
	if m.TurnID == "" {
		return fmt.Errorf("turn_id is required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if m.Type == MsgTypeREVISION && m.Feedback == "" {
		return fmt.Errorf("revision request requires feedback")
	}
	return nil
}

// ToJSON serializes the message for the audit log.
func (m *ReviewMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review message: %w", err)
	}
	return data, nil
}

// ReviewMessageFromJSON deserializes a review message.
func ReviewMessageFromJSON(data []byte) (*ReviewMessage, error) {
	var msg ReviewMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal review message: %w", err)
	}
	return &msg, nil
}

// Turn is one user message / agent response pair appended to session history.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserMsg   string    `json:"user_msg"`
	AgentMsg  string    `json:"agent_msg"`
	AgentID   AgentID   `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn record with a fresh ID and UTC timestamp.
func NewTurn(sessionID, userMsg string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserMsg:   userMsg,
		Timestamp: time.Now().UTC(),
	}
}
