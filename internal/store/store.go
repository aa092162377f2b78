// Package store persists conversations and their turns.
package store

import (
	"context"
	"errors"

	"github.com/capitalize-ai/streamchat/internal/model"
)

// ErrNotFound is returned when a conversation or turn does not exist, is
// deleted, or belongs to another tenant.
var ErrNotFound = errors.New("not found")

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 20

// ListOptions filters and pages ListConversations.
type ListOptions struct {
	TenantID string
	UserID   string
	Limit    int
	Offset   int
}

// Store is the persistence contract shared by the memory, SQLite and NATS
// backends. Turns are kept in insertion order; SaveTurn with an existing id
// updates the turn in place without moving it.
type Store interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, conv *model.Conversation) error
	ListConversations(ctx context.Context, opts ListOptions) ([]model.Conversation, int, error)
	DeleteConversation(ctx context.Context, tenantID, id string) error

	SaveTurn(ctx context.Context, turn model.Turn) error
	DeleteTurns(ctx context.Context, conversationID string, ids []string) error
	ListTurns(ctx context.Context, conversationID string) ([]model.Turn, error)

	Ping(ctx context.Context) error
	Close() error
}

// Window returns the slice bounds of the requested page over total items.
func (o ListOptions) Window(total int) (int, int) {
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	start := o.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}

func visible(conv *model.Conversation, tenantID string) bool {
	return conv != nil && !conv.Deleted && conv.TenantID == tenantID
}
