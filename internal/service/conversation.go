// Package service provides business logic for the chat edge service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

// ErrInvalidTurn is returned when a turn cannot be persisted as given.
var ErrInvalidTurn = errors.New("invalid turn")

// ConversationService handles conversation and turn operations.
type ConversationService struct {
	store  store.Store
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		logger: log.Named("conversations"),
		now:    time.Now,
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := s.now().UTC()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     model.TitleFromText(req.Title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	metrics.ConversationsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("tenant_id", tenantID),
	)
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, tenantID, conversationID)
}

// List retrieves a page of conversations for a user, newest first.
func (s *ConversationService) List(ctx context.Context, tenantID, userID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	convs, total, err := s.store.ListConversations(ctx, store.ListOptions{
		TenantID: tenantID,
		UserID:   userID,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// Update renames a conversation.
func (s *ConversationService) Update(ctx context.Context, tenantID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	if req.Title != "" {
		conv.Title = model.TitleFromText(req.Title)
	}
	conv.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return conv, nil
}

// Delete soft deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, tenantID, conversationID string) error {
	return s.store.DeleteConversation(ctx, tenantID, conversationID)
}

// Turns lists the turns of a conversation in order.
func (s *ConversationService) Turns(ctx context.Context, tenantID, conversationID string) ([]model.Turn, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return turns, nil
}

// SaveTurn upserts a turn. The first user turn of an untitled conversation
// becomes its title.
func (s *ConversationService) SaveTurn(ctx context.Context, tenantID, conversationID string, req *model.SaveTurnRequest) (*model.Turn, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, req.Role)
	}

	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	turn := model.Turn{
		ID:             req.ID,
		ConversationID: conversationID,
		Role:           req.Role,
		Content:        req.Content,
		Images:         req.Images,
		Pinned:         req.Pinned,
		CreatedAt:      s.now().UTC(),
	}
	if turn.ID == "" {
		turn.ID = uuid.Must(uuid.NewV7()).String()
	}
	if req.CreatedAt != nil {
		turn.CreatedAt = req.CreatedAt.UTC()
	}

	if err := s.store.SaveTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("save turn: %w", err)
	}
	metrics.TurnsTotal.WithLabelValues(string(turn.Role)).Inc()

	if conv.Title == "" && turn.Role == model.RoleUser && turn.Content != "" {
		if _, err := s.Update(ctx, tenantID, conversationID, &model.UpdateConversationRequest{Title: turn.Content}); err != nil {
			s.logger.Warn("failed to title conversation",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}
	return &turn, nil
}

// DeleteTurn removes one turn.
func (s *ConversationService) DeleteTurn(ctx context.Context, tenantID, conversationID, turnID string) error {
	if _, err := s.findTurn(ctx, tenantID, conversationID, turnID); err != nil {
		return err
	}
	return s.store.DeleteTurns(ctx, conversationID, []string{turnID})
}

// PinTurn sets the pinned flag of a turn.
func (s *ConversationService) PinTurn(ctx context.Context, tenantID, conversationID, turnID string, pinned bool) (*model.Turn, error) {
	turn, err := s.findTurn(ctx, tenantID, conversationID, turnID)
	if err != nil {
		return nil, err
	}
	turn.Pinned = pinned
	if err := s.store.SaveTurn(ctx, *turn); err != nil {
		return nil, fmt.Errorf("pin turn: %w", err)
	}
	return turn, nil
}

func (s *ConversationService) findTurn(ctx context.Context, tenantID, conversationID, turnID string) (*model.Turn, error) {
	turns, err := s.Turns(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range turns {
		if turns[i].ID == turnID {
			return &turns[i], nil
		}
	}
	return nil, store.ErrNotFound
}
