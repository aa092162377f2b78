package model

import (
	"time"
)

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two turn roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn represents a single message in a conversation.
type Turn struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Content
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`

	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTurnsResponse is the response for listing turns.
type ListTurnsResponse struct {
	Turns []Turn `json:"turns"`
}

// SaveTurnRequest is the request to persist a turn.
type SaveTurnRequest struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	Pinned    bool       `json:"pinned"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// PinTurnRequest toggles the pinned flag of a turn.
type PinTurnRequest struct {
	Pinned bool `json:"pinned"`
}
