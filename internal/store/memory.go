package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/streamchat/internal/model"
)

// Memory is an in-process Store.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	turns         map[string][]model.Turn
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*model.Conversation),
		turns:         make(map[string][]model.Turn),
	}
}

func (m *Memory) CreateConversation(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

func (m *Memory) GetConversation(_ context.Context, tenantID, id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv := m.conversations[id]
	if !visible(conv, tenantID) {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (m *Memory) UpdateConversation(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.conversations[conv.ID]
	if !visible(existing, conv.TenantID) {
		return ErrNotFound
	}
	existing.Title = conv.Title
	existing.UpdatedAt = conv.UpdatedAt
	return nil
}

func (m *Memory) ListConversations(_ context.Context, opts ListOptions) ([]model.Conversation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range m.conversations {
		if !visible(conv, opts.TenantID) {
			continue
		}
		if opts.UserID != "" && conv.UserID != opts.UserID {
			continue
		}
		convs = append(convs, *conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	start, end := opts.Window(len(convs))
	return convs[start:end], len(convs), nil
}

func (m *Memory) DeleteConversation(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversations[id]
	if !visible(conv, tenantID) {
		return ErrNotFound
	}
	conv.Deleted = true
	conv.UpdatedAt = time.Now()
	delete(m.turns, id)
	return nil
}

func (m *Memory) SaveTurn(_ context.Context, turn model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversations[turn.ConversationID]
	if conv == nil || conv.Deleted {
		return ErrNotFound
	}

	turns := m.turns[turn.ConversationID]
	for i := range turns {
		if turns[i].ID == turn.ID {
			turn.Role = turns[i].Role
			turn.CreatedAt = turns[i].CreatedAt
			turns[i] = turn
			conv.UpdatedAt = time.Now()
			return nil
		}
	}
	m.turns[turn.ConversationID] = append(turns, turn)
	conv.TurnCount++
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeleteTurns(_ context.Context, conversationID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversations[conversationID]
	if conv == nil || conv.Deleted {
		return ErrNotFound
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.turns[conversationID][:0]
	for _, turn := range m.turns[conversationID] {
		if _, ok := drop[turn.ID]; ok {
			conv.TurnCount--
			continue
		}
		kept = append(kept, turn)
	}
	m.turns[conversationID] = kept
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ListTurns(_ context.Context, conversationID string) ([]model.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv := m.conversations[conversationID]
	if conv == nil || conv.Deleted {
		return nil, ErrNotFound
	}
	out := make([]model.Turn, len(m.turns[conversationID]))
	copy(out, m.turns[conversationID])
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
