// Package model defines data structures shared by the chat client and the edge service.
package model

import (
	"time"
	"unicode/utf8"
)

// TitleMaxRunes bounds a conversation title derived from its first message.
const TitleMaxRunes = 50

// Conversation owns an ordered sequence of turns and is the unit of persistence.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}

// TitleFromText derives a conversation title from the first user message.
func TitleFromText(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxRunes]) + "..."
}
