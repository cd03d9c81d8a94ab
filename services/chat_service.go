package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
)

// IChatService is the emit side used by request/response handlers: it
// mutates the store and pushes the matching realtime events.
type IChatService interface {
	CreateGroup(ctx context.Context, creator domain.UserID, name string, members []domain.UserID) (domain.Chat, error)
	DeleteMessage(ctx context.Context, requester domain.UserID, messageID domain.MessageID) error
	Alert(audience domain.Audience, chatID domain.ChatID, message string) int
	Refetch(audience domain.Audience, chatID domain.ChatID) int
}

type ChatService struct {
	log    *slog.Logger
	chats  repositories.IChatRepository
	router contract.IRouter
}

func NewChatService(log *slog.Logger, chats repositories.IChatRepository, router contract.IRouter) *ChatService {
	return &ChatService{log: log, chats: chats, router: router}
}

// CreateGroup stores a group chat, welcomes every member and asks the
// other members to reload their chat list.
func (s *ChatService) CreateGroup(ctx context.Context, creator domain.UserID, name string, members []domain.UserID) (domain.Chat, error) {
	if name == "" {
		return domain.Chat{}, fmt.Errorf("%w: group name is required", errors.ErrInvalidPayload)
	}
	chat, err := s.chats.CreateChat(ctx, domain.Chat{
		Name:      name,
		GroupChat: true,
		Creator:   creator,
		Members:   members,
	})
	if err != nil {
		return domain.Chat{}, err
	}

	audience := chat.Audience()
	s.router.Deliver(audience, event.AlertEvent(chat.ID, fmt.Sprintf("Welcome to %s group", chat.Name)))
	s.router.Deliver(audience.Without(creator), event.RefetchEvent(chat.ID))
	s.log.Info("Group created", "chat_id", chat.ID, "user_id", creator, "members", len(audience))
	return chat, nil
}

// DeleteMessage removes a message on behalf of its sender and notifies the
// members of its chat.
func (s *ChatService) DeleteMessage(ctx context.Context, requester domain.UserID, messageID domain.MessageID) error {
	msg, err := s.chats.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requester {
		return errors.ErrForbidden
	}
	members, err := s.chats.GetChatMembers(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if err := s.chats.DeleteMessage(ctx, messageID); err != nil {
		return err
	}

	reached := s.router.Deliver(members, event.MessageDeletedEvent(msg.ChatID, msg.ID))
	s.log.Debug("Message deleted", "chat_id", msg.ChatID, "message_id", msg.ID, "reached", reached)
	return nil
}

func (s *ChatService) Alert(audience domain.Audience, chatID domain.ChatID, message string) int {
	return s.router.Deliver(audience, event.AlertEvent(chatID, message))
}

func (s *ChatService) Refetch(audience domain.Audience, chatID domain.ChatID) int {
	return s.router.Deliver(audience, event.RefetchEvent(chatID))
}
