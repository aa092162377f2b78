package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

const maxUpdateAttempts = 3

// Store keeps conversations in a JetStream key/value bucket and turns in an
// append-only stream folded on read.
type Store struct {
	client *Client
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	stream jetstream.Stream
	logger *logger.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore provisions the stream and bucket.
func NewStore(ctx context.Context, client *Client, log *logger.Logger) (*Store, error) {
	js := client.JetStream()

	stream, err := ensureStream(ctx, js)
	if err != nil {
		return nil, err
	}
	kv, err := ensureBucket(ctx, js)
	if err != nil {
		return nil, err
	}

	return &Store{
		client: client,
		js:     js,
		kv:     kv,
		stream: stream,
		logger: log.Named("nats-store"),
	}, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Create(ctx, conv.ID, data); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	conv, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Deleted || conv.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	return s.update(ctx, conv.ID, func(existing *model.Conversation) error {
		if existing.Deleted || existing.TenantID != conv.TenantID {
			return store.ErrNotFound
		}
		existing.Title = conv.Title
		existing.UpdatedAt = conv.UpdatedAt
		return nil
	})
}

func (s *Store) ListConversations(ctx context.Context, opts store.ListOptions) ([]model.Conversation, int, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []model.Conversation{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversation keys: %w", err)
	}

	var convs []model.Conversation
	for _, key := range keys {
		conv, _, err := s.load(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if conv.Deleted || conv.TenantID != opts.TenantID {
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

func (s *Store) DeleteConversation(ctx context.Context, tenantID, id string) error {
	err := s.update(ctx, id, func(conv *model.Conversation) error {
		if conv.Deleted || conv.TenantID != tenantID {
			return store.ErrNotFound
		}
		conv.Deleted = true
		conv.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.stream.Purge(ctx, jetstream.WithPurgeSubject(TurnSubject(id))); err != nil {
		return fmt.Errorf("failed to purge turns: %w", err)
	}
	return nil
}

func (s *Store) SaveTurn(ctx context.Context, turn model.Turn) error {
	conv, _, err := s.load(ctx, turn.ConversationID)
	if err != nil {
		return err
	}
	if conv.Deleted {
		return store.ErrNotFound
	}

	existing, err := s.listTurns(ctx, turn.ConversationID)
	if err != nil {
		return err
	}
	added := 1
	for _, t := range existing {
		if t.ID == turn.ID {
			added = 0
			break
		}
	}

	if err := s.appendRecord(ctx, turn.ConversationID, turnRecord{Op: opPut, TurnID: turn.ID, Turn: &turn}); err != nil {
		return err
	}
	return s.update(ctx, turn.ConversationID, func(c *model.Conversation) error {
		c.TurnCount += added
		c.UpdatedAt = time.Now()
		return nil
	})
}

func (s *Store) DeleteTurns(ctx context.Context, conversationID string, ids []string) error {
	conv, _, err := s.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Deleted {
		return store.ErrNotFound
	}

	existing, err := s.listTurns(ctx, conversationID)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[t.ID] = true
	}

	removed := 0
	for _, id := range ids {
		if !present[id] {
			continue
		}
		if err := s.appendRecord(ctx, conversationID, turnRecord{Op: opDelete, TurnID: id}); err != nil {
			return err
		}
		present[id] = false
		removed++
	}
	if removed == 0 {
		return nil
	}
	return s.update(ctx, conversationID, func(c *model.Conversation) error {
		c.TurnCount -= removed
		c.UpdatedAt = time.Now()
		return nil
	})
}

func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]model.Turn, error) {
	conv, _, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Deleted {
		return nil, store.ErrNotFound
	}
	return s.listTurns(ctx, conversationID)
}

// Ping reports whether the connection is usable.
func (s *Store) Ping(context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Close is a no-op; the connection is owned by the Client.
func (s *Store) Close() error { return nil }

func (s *Store) listTurns(ctx context.Context, conversationID string) ([]model.Turn, error) {
	records, err := s.readLog(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return foldTurns(records), nil
}

func (s *Store) load(ctx context.Context, id string) (*model.Conversation, uint64, error) {
	entry, err := s.kv.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get conversation: %w", err)
	}
	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return &conv, entry.Revision(), nil
}

// update applies fn with optimistic concurrency on the record revision.
func (s *Store) update(ctx context.Context, id string, fn func(*model.Conversation) error) error {
	for attempt := 1; ; attempt++ {
		conv, rev, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		_, err = s.kv.Update(ctx, id, data, rev)
		if err == nil {
			return nil
		}
		var apiErr *jetstream.APIError
		if attempt < maxUpdateAttempts && errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			continue
		}
		return fmt.Errorf("failed to update conversation: %w", err)
	}
}
