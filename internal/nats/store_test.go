package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

func put(id string, role model.Role, content string) turnRecord {
	return turnRecord{Op: opPut, TurnID: id, Turn: &model.Turn{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: time.UnixMilli(1_700_000_000_000),
	}}
}

func tombstone(id string) turnRecord {
	return turnRecord{Op: opDelete, TurnID: id}
}

func ids(turns []model.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.ID)
	}
	return out
}

func TestFoldTurns_LatestPutWinsInPlace(t *testing.T) {
	turns := foldTurns([]turnRecord{
		put("u1", model.RoleUser, "hi"),
		put("a1", model.RoleAssistant, "Hel"),
		put("u2", model.RoleUser, "again"),
		put("a1", model.RoleAssistant, "Hello"),
	})

	require.Equal(t, []string{"u1", "a1", "u2"}, ids(turns))
	require.Equal(t, "Hello", turns[1].Content)
}

func TestFoldTurns_Tombstones(t *testing.T) {
	turns := foldTurns([]turnRecord{
		put("a", model.RoleUser, "A"),
		put("b", model.RoleAssistant, "B"),
		put("c", model.RoleUser, "C"),
		put("d", model.RoleAssistant, "D"),
		tombstone("d"),
		tombstone("missing"),
		put("e", model.RoleAssistant, "E"),
	})
	require.Equal(t, []string{"a", "b", "c", "e"}, ids(turns))

	turns = foldTurns([]turnRecord{
		put("a", model.RoleUser, "A"),
		put("b", model.RoleAssistant, "B"),
		tombstone("a"),
		put("a", model.RoleUser, "A again"),
	})
	require.Equal(t, []string{"b", "a"}, ids(turns))
	require.Equal(t, "A again", turns[1].Content)
}

func TestFoldTurns_IgnoresEmptyPuts(t *testing.T) {
	turns := foldTurns([]turnRecord{{Op: opPut, TurnID: "x"}})
	require.Empty(t, turns)
}

func TestTurnSubject(t *testing.T) {
	require.Equal(t, "turns.abc", TurnSubject("abc"))
}

func TestStore_Integration(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	ctx := context.Background()

	client, err := Connect(ctx, Config{URL: url}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	s, err := NewStore(ctx, client, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	tenant := "test-" + uuid.NewString()
	conv := &model.Conversation{ID: uuid.NewString(), TenantID: tenant, Title: "t", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, conv))

	for _, rec := range []turnRecord{put("u1", model.RoleUser, "hi"), put("a1", model.RoleAssistant, "Hello")} {
		turn := *rec.Turn
		turn.ID = conv.ID + "-" + turn.ID
		turn.ConversationID = conv.ID
		require.NoError(t, s.SaveTurn(ctx, turn))
	}
	require.NoError(t, s.DeleteTurns(ctx, conv.ID, []string{conv.ID + "-a1"}))

	turns, err := s.ListTurns(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, []string{conv.ID + "-u1"}, ids(turns))

	got, err := s.GetConversation(ctx, tenant, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.TurnCount)

	require.NoError(t, s.DeleteConversation(ctx, tenant, conv.ID))
	_, err = s.GetConversation(ctx, tenant, conv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
