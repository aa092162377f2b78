package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/model"
)

const (
	// StreamName is the name of the turn log stream.
	StreamName = "CHAT_TURNS"

	// SubjectPrefix is the prefix for all turn subjects.
	SubjectPrefix = "turns"

	// BucketName is the key/value bucket holding conversation records.
	BucketName = "CHAT_CONVERSATIONS"
)

type recordOp string

const (
	opPut    recordOp = "put"
	opDelete recordOp = "delete"
)

// turnRecord is one entry of the append-only turn log. A put carries the
// whole turn; a delete is a tombstone for TurnID.
type turnRecord struct {
	Op     recordOp    `json:"op"`
	TurnID string      `json:"turn_id"`
	Turn   *model.Turn `json:"turn,omitempty"`
}

// TurnSubject returns the subject holding the log of one conversation.
func TurnSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, conversationID)
}

// ensureStream creates the turn log stream if it does not exist.
func ensureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("failed to look up stream: %w", err)
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "Append-only turn log, one subject per conversation",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return stream, nil
}

// ensureBucket creates the conversation bucket if it does not exist.
func ensureBucket(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, BucketName)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket: %w", err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "Conversation records",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return kv, nil
}

func (s *Store) appendRecord(ctx context.Context, conversationID string, rec turnRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal turn record: %w", err)
	}
	if _, err := s.js.Publish(ctx, TurnSubject(conversationID), data); err != nil {
		return fmt.Errorf("failed to publish turn record: %w", err)
	}
	return nil
}

// readLog returns every record of a conversation in stream order.
func (s *Store) readLog(ctx context.Context, conversationID string) ([]turnRecord, error) {
	consumer, err := s.js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     TurnSubject(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		_ = s.js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, consumer.CachedInfo().Name)
	}()

	pending := int(consumer.CachedInfo().NumPending)
	records := make([]turnRecord, 0, pending)

	for seen := 0; seen < pending; {
		batch, err := consumer.Fetch(pending-seen, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch turn records: %w", err)
		}
		got := 0
		for msg := range batch.Messages() {
			got++
			var rec turnRecord
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				s.logger.Warn("skipping malformed turn record", zap.String("subject", msg.Subject()), zap.Error(err))
				continue
			}
			records = append(records, rec)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if got == 0 {
			break
		}
		seen += got
	}
	return records, nil
}

// foldTurns replays the log: the latest put of an id wins and keeps the
// position of its first put; a tombstone removes the id.
func foldTurns(records []turnRecord) []model.Turn {
	var order []string
	latest := make(map[string]model.Turn)
	for _, rec := range records {
		switch rec.Op {
		case opPut:
			if rec.Turn == nil {
				continue
			}
			id := rec.Turn.ID
			if prev, ok := latest[id]; ok {
				turn := *rec.Turn
				turn.CreatedAt = prev.CreatedAt
				turn.Role = prev.Role
				latest[id] = turn
				continue
			}
			order = append(order, id)
			latest[id] = *rec.Turn
		case opDelete:
			if _, ok := latest[rec.TurnID]; !ok {
				continue
			}
			delete(latest, rec.TurnID)
			for i, id := range order {
				if id == rec.TurnID {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
	}

	turns := make([]model.Turn, 0, len(order))
	for _, id := range order {
		turns = append(turns, latest[id])
	}
	return turns
}
