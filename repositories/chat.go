//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// IChatRepository is the persistence service the relay depends on.
// It owns chat membership truth and durable message records.
type IChatRepository interface {
	CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	GetChat(ctx context.Context, chatID domain.ChatID) (domain.Chat, error)
	GetChatMembers(ctx context.Context, chatID domain.ChatID) (domain.Audience, error)
	ListChats(ctx context.Context) ([]domain.Chat, error)
	CreateMessage(ctx context.Context, message domain.NewMessage) (domain.Message, error)
	GetMessage(ctx context.Context, messageID domain.MessageID) (domain.Message, error)
	DeleteMessage(ctx context.Context, messageID domain.MessageID) error
}

type ChatRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChatRepository(db *badger.DB, log *slog.Logger) ChatRepository {
	return ChatRepository{db: db, log: log}
}

type diskChat struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	GroupChat bool     `json:"group_chat"`
	Creator   string   `json:"creator"`
	Members   []string `json:"members"`
	CreatedAt int64    `json:"created_at"`
}

type diskMessage struct {
	ID      string `json:"id"`
	Chat    string `json:"chat"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	At      int64  `json:"at"`
}

const (
	chatPrefix         = "chat:"
	messagePrefix      = "msg:"
	messageIndexPrefix = "msgid:"
)

func chatKey(chatID domain.ChatID) []byte {
	return []byte(chatPrefix + string(chatID))
}

// messageKey is formatted as "msg:{chat_id}:{timestamp_padded}:{uuid}" so a
// prefix scan returns a chat's messages in chronological order.
func messageKey(chatID domain.ChatID, at time.Time, messageID domain.MessageID) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", messagePrefix, chatID, at.UnixNano(), messageID))
}

func messageIndexKey(messageID domain.MessageID) []byte {
	return []byte(messageIndexPrefix + string(messageID))
}

// CreateChat stores a chat with a deduplicated member list.
// The creator is always a member.
func (c ChatRepository) CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return domain.Chat{}, err
	}
	if chat.ID == "" {
		chat.ID = domain.ChatID(uuid.NewString())
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	members := append([]domain.UserID{}, chat.Members...)
	if chat.Creator != "" {
		members = append(members, chat.Creator)
	}
	chat.Members = lo.Uniq(members)

	bytes, err := json.Marshal(fromChat(chat))
	if err != nil {
		return domain.Chat{}, err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chatKey(chat.ID), bytes)
	})
	return chat, err
}

func (c ChatRepository) GetChat(ctx context.Context, chatID domain.ChatID) (domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return domain.Chat{}, err
	}
	var record diskChat
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chatKey(chatID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Chat{}, errors.ErrChatNotFound
	}
	if err != nil {
		return domain.Chat{}, err
	}
	return toChat(record), nil
}

// GetChatMembers builds the audience of a chat.
func (c ChatRepository) GetChatMembers(ctx context.Context, chatID domain.ChatID) (domain.Audience, error) {
	chat, err := c.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Audience(), nil
}

func (c ChatRepository) ListChats(ctx context.Context) ([]domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chats []domain.Chat
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(chatPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record diskChat
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			chats = append(chats, toChat(record))
		}
		return nil
	})
	return chats, err
}

// CreateMessage durably stores a message and assigns its id.
// The server timestamp carried by the request is kept as the creation time.
func (c ChatRepository) CreateMessage(ctx context.Context, message domain.NewMessage) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	stored := domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		ChatID:    message.ChatID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	bytes, err := json.Marshal(fromMessage(stored))
	if err != nil {
		return domain.Message{}, err
	}
	key := messageKey(stored.ChatID, stored.CreatedAt, stored.ID)
	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, bytes); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(stored.ID), key)
	})
	if err != nil {
		return domain.Message{}, err
	}
	c.log.Debug("Message stored", "message_id", stored.ID, "chat_id", stored.ChatID)
	return stored, nil
}

func (c ChatRepository) GetMessage(ctx context.Context, messageID domain.MessageID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	var record diskMessage
	err := c.db.View(func(txn *badger.Txn) error {
		key, err := lookupMessageKey(txn, messageID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(record), nil
}

func (c ChatRepository) DeleteMessage(ctx context.Context, messageID domain.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		key, err := lookupMessageKey(txn, messageID)
		if err != nil {
			return err
		}
		if err = txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(messageIndexKey(messageID))
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return errors.ErrMessageNotFound
	}
	return err
}

func lookupMessageKey(txn *badger.Txn, messageID domain.MessageID) ([]byte, error) {
	item, err := txn.Get(messageIndexKey(messageID))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func fromChat(chat domain.Chat) diskChat {
	return diskChat{
		ID:        string(chat.ID),
		Name:      chat.Name,
		GroupChat: chat.GroupChat,
		Creator:   string(chat.Creator),
		Members:   lo.Map(chat.Members, func(id domain.UserID, _ int) string { return string(id) }),
		CreatedAt: chat.CreatedAt.UnixNano(),
	}
}

func toChat(record diskChat) domain.Chat {
	return domain.Chat{
		ID:        domain.ChatID(record.ID),
		Name:      record.Name,
		GroupChat: record.GroupChat,
		Creator:   domain.UserID(record.Creator),
		Members:   domain.AudienceOf(record.Members...),
		CreatedAt: time.Unix(0, record.CreatedAt).UTC(),
	}
}

func fromMessage(message domain.Message) diskMessage {
	return diskMessage{
		ID:      string(message.ID),
		Chat:    string(message.ChatID),
		Sender:  string(message.SenderID),
		Content: message.Content,
		At:      message.CreatedAt.UnixNano(),
	}
}

func toMessage(record diskMessage) domain.Message {
	return domain.Message{
		ID:        domain.MessageID(record.ID),
		ChatID:    domain.ChatID(record.Chat),
		SenderID:  domain.UserID(record.Sender),
		Content:   record.Content,
		CreatedAt: time.Unix(0, record.At).UTC(),
	}
}
