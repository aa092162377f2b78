package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/streamchat/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	sqlite, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func newConversation(id, tenant, user string, updated time.Time) *model.Conversation {
	return &model.Conversation{
		ID:        id,
		TenantID:  tenant,
		UserID:    user,
		Title:     "title " + id,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func turn(id, convID string, role model.Role, content string) model.Turn {
	return model.Turn{
		ID:             id,
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.UnixMilli(1_700_000_000_000).UTC(),
	}
}

func turnIDs(turns []model.Turn) []string {
	ids := make([]string, 0, len(turns))
	for _, t := range turns {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestStore_ConversationLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.UnixMilli(1_700_000_000_000).UTC()

			require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "t1", "u1", now)))

			got, err := s.GetConversation(ctx, "t1", "c1")
			require.NoError(t, err)
			require.Equal(t, "title c1", got.Title)
			require.Equal(t, "u1", got.UserID)

			_, err = s.GetConversation(ctx, "other", "c1")
			require.ErrorIs(t, err, ErrNotFound)

			got.Title = "renamed"
			got.UpdatedAt = now.Add(time.Minute)
			require.NoError(t, s.UpdateConversation(ctx, got))
			got, err = s.GetConversation(ctx, "t1", "c1")
			require.NoError(t, err)
			require.Equal(t, "renamed", got.Title)

			require.NoError(t, s.DeleteConversation(ctx, "t1", "c1"))
			_, err = s.GetConversation(ctx, "t1", "c1")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.DeleteConversation(ctx, "t1", "c1"), ErrNotFound)
			_, err = s.ListTurns(ctx, "c1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListConversationsPagesNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.UnixMilli(1_700_000_000_000).UTC()

			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.CreateConversation(ctx, newConversation(id, "t1", "u1", base.Add(time.Duration(i)*time.Hour))))
			}
			require.NoError(t, s.CreateConversation(ctx, newConversation("x", "t2", "u1", base)))
			require.NoError(t, s.CreateConversation(ctx, newConversation("y", "t1", "u2", base)))

			convs, total, err := s.ListConversations(ctx, ListOptions{TenantID: "t1", UserID: "u1", Limit: 2})
			require.NoError(t, err)
			require.Equal(t, 3, total)
			require.Len(t, convs, 2)
			require.Equal(t, "c", convs[0].ID)
			require.Equal(t, "b", convs[1].ID)

			convs, _, err = s.ListConversations(ctx, ListOptions{TenantID: "t1", UserID: "u1", Limit: 2, Offset: 2})
			require.NoError(t, err)
			require.Len(t, convs, 1)
			require.Equal(t, "a", convs[0].ID)

			_, total, err = s.ListConversations(ctx, ListOptions{TenantID: "t1"})
			require.NoError(t, err)
			require.Equal(t, 4, total)
		})
	}
}

func TestStore_SaveTurnUpsertsInPlace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "t1", "u1", time.Now())))

			require.NoError(t, s.SaveTurn(ctx, turn("u-1", "c1", model.RoleUser, "hi")))
			require.NoError(t, s.SaveTurn(ctx, turn("a-1", "c1", model.RoleAssistant, "Hel")))
			require.NoError(t, s.SaveTurn(ctx, turn("u-2", "c1", model.RoleUser, "more")))

			updated := turn("a-1", "c1", model.RoleAssistant, "Hello")
			updated.Pinned = true
			require.NoError(t, s.SaveTurn(ctx, updated))

			turns, err := s.ListTurns(ctx, "c1")
			require.NoError(t, err)
			require.Equal(t, []string{"u-1", "a-1", "u-2"}, turnIDs(turns))
			require.Equal(t, "Hello", turns[1].Content)
			require.True(t, turns[1].Pinned)
			require.Equal(t, model.RoleAssistant, turns[1].Role)

			conv, err := s.GetConversation(ctx, "t1", "c1")
			require.NoError(t, err)
			require.Equal(t, 3, conv.TurnCount)
		})
	}
}

func TestStore_TurnImagesRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "t1", "u1", time.Now())))

			withImage := turn("u-1", "c1", model.RoleUser, "what is this?")
			withImage.Images = []string{"data:image/png;base64,AAAA"}
			require.NoError(t, s.SaveTurn(ctx, withImage))
			require.NoError(t, s.SaveTurn(ctx, turn("a-1", "c1", model.RoleAssistant, "a cat")))

			turns, err := s.ListTurns(ctx, "c1")
			require.NoError(t, err)
			require.Equal(t, withImage.Images, turns[0].Images)
			require.Nil(t, turns[1].Images)
		})
	}
}

func TestStore_DeleteTurns(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "t1", "u1", time.Now())))
			for _, tr := range []model.Turn{
				turn("a", "c1", model.RoleUser, "A"),
				turn("b", "c1", model.RoleAssistant, "B"),
				turn("c", "c1", model.RoleUser, "C"),
				turn("d", "c1", model.RoleAssistant, "D"),
			} {
				require.NoError(t, s.SaveTurn(ctx, tr))
			}

			require.NoError(t, s.DeleteTurns(ctx, "c1", []string{"d", "missing"}))

			turns, err := s.ListTurns(ctx, "c1")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, turnIDs(turns))

			conv, err := s.GetConversation(ctx, "t1", "c1")
			require.NoError(t, err)
			require.Equal(t, 3, conv.TurnCount)
		})
	}
}

func TestStore_SaveTurnUnknownConversation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.SaveTurn(context.Background(), turn("x", "nope", model.RoleUser, "hi"))
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, s.DeleteTurns(context.Background(), "nope", []string{"x"}), ErrNotFound)
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "", "", time.Now())))
	require.NoError(t, s.SaveTurn(ctx, turn("u-1", "c1", model.RoleUser, "remember me")))
	require.NoError(t, s.Close())

	s, err = NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	turns, err := s.ListTurns(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "remember me", turns[0].Content)
	require.NoError(t, s.Ping(ctx))
}

func TestDSNForFile_Empty(t *testing.T) {
	_, err := DSNForFile("  ")
	require.Error(t, err)
}
