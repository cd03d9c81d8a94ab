package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newChatRepository(t *testing.T) ChatRepository {
	return NewChatRepository(openInMemory(t), logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestChatRepository_CreateChat_Deduplicates_Members(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newChatRepository(t)
	members := []domain.UserID{"bob", "carol", "bob"}

	// When a chat is created with duplicated members and no creator among them
	chat, err := repository.CreateChat(ctx, domain.Chat{Name: "Friends", GroupChat: true, Creator: "alice", Members: members})

	// Then ids are assigned and the creator is a member
	req.NoError(err)
	req.NotEmpty(chat.ID)
	req.False(chat.CreatedAt.IsZero())
	req.ElementsMatch([]domain.UserID{"alice", "bob", "carol"}, chat.Members)
	req.Equal([]domain.UserID{"bob", "carol", "bob"}, members, "caller slice must not be touched")

	// And the audience reads back from the store
	audience, err := repository.GetChatMembers(ctx, chat.ID)
	req.NoError(err)
	req.ElementsMatch(domain.Audience{"alice", "bob", "carol"}, audience)

	stored, err := repository.GetChat(ctx, chat.ID)
	req.NoError(err)
	req.Equal("Friends", stored.Name)
	req.True(stored.GroupChat)
	req.Equal(chat.CreatedAt.UnixNano(), stored.CreatedAt.UnixNano())
}

func TestChatRepository_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	repository := newChatRepository(t)

	_, err := repository.GetChatMembers(context.Background(), "missing")

	req.ErrorIs(err, errors.ErrChatNotFound)
}

func TestChatRepository_ListChats(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newChatRepository(t)

	_, err := repository.CreateChat(ctx, domain.Chat{ID: "c1", Name: "one", Members: []domain.UserID{"a", "b"}})
	req.NoError(err)
	_, err = repository.CreateChat(ctx, domain.Chat{ID: "c2", Name: "two", Members: []domain.UserID{"a", "c"}})
	req.NoError(err)

	chats, err := repository.ListChats(ctx)

	req.NoError(err)
	req.Len(chats, 2)
	req.Equal(domain.ChatID("c1"), chats[0].ID)
	req.Equal(domain.ChatID("c2"), chats[1].ID)
}

func TestChatRepository_Message_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	repository := newChatRepository(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)

	// Given a stored message
	stored, err := repository.CreateMessage(ctx, domain.NewMessage{
		ChatID:    "chat-1",
		SenderID:  "alice",
		Content:   "hello",
		CreatedAt: at,
	})
	req.NoError(err)
	req.NotEmpty(stored.ID)
	req.Equal(at, stored.CreatedAt)

	// Then it reads back identically
	fetched, err := repository.GetMessage(ctx, stored.ID)
	req.NoError(err)
	req.Equal(stored, fetched)

	// When it is deleted
	req.NoError(repository.DeleteMessage(ctx, stored.ID))

	// Then it is gone, and a second delete reports it
	_, err = repository.GetMessage(ctx, stored.ID)
	req.ErrorIs(err, errors.ErrMessageNotFound)
	req.ErrorIs(repository.DeleteMessage(ctx, stored.ID), errors.ErrMessageNotFound)
}

func TestChatRepository_CreateMessage_Honours_Canceled_Context(t *testing.T) {
	req := require.New(t)
	repository := newChatRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repository.CreateMessage(ctx, domain.NewMessage{ChatID: "chat-1", SenderID: "alice", Content: "late"})

	req.ErrorIs(err, context.Canceled)
}
