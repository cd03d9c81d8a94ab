package websocket

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// dispatch decodes one inbound frame and drives the matching relay
// operation. Any failure is reported to the originating connection only.
func (s *Server) dispatch(ctx context.Context, c *client, raw []byte) {
	var frame event.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.reject(c, "", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
		return
	}

	var err error
	switch frame.Type {
	case event.NewMessage:
		err = s.onNewMessage(ctx, c, frame)
	case event.StartTyping, event.StopTyping:
		err = s.onTyping(ctx, c, frame)
	case event.ChatJoined, event.ChatLeft:
		err = s.onMembership(ctx, c, frame)
	case event.DeleteMessage:
		err = s.onDeleteMessage(ctx, c, frame)
	case event.CreateGroup:
		err = s.onCreateGroup(ctx, c, frame)
	default:
		err = fmt.Errorf("%w: %q", errors.ErrUnknownEvent, frame.Type)
	}
	if err != nil {
		s.reject(c, frame.RequestID, err)
	}
}

func (s *Server) onNewMessage(ctx context.Context, c *client, frame event.Frame) error {
	var cmd event.SendMessageCommand
	if err := decode(frame, &cmd); err != nil {
		return err
	}
	if s.cfg.MaxContentLength > 0 {
		if err := auth.ValidateContent(cmd.Message, s.cfg.MaxContentLength); err != nil {
			return err
		}
	}
	audience, err := s.audience(ctx, cmd.ChatID, c.identity.ID)
	if err != nil {
		return err
	}

	result, err := s.relay.SendMessage(ctx, event.IngestRequest{
		RequestID:  frame.RequestID,
		ChatID:     cmd.ChatID,
		Audience:   audience,
		Content:    cmd.Message,
		Sender:     c.identity,
		SenderConn: c.handle.ID(),
	})
	if err != nil {
		// The ingest pipeline already reported the failure to this connection.
		c.log.Warn("Message not delivered", "chat_id", cmd.ChatID, "stage", result.Stage, "error", err)
		return nil
	}
	c.log.Debug("Message delivered", "chat_id", cmd.ChatID, "message_id", result.Message.ID, "reached", result.Reached)
	return nil
}

func (s *Server) onTyping(ctx context.Context, c *client, frame event.Frame) error {
	var cmd event.ChatCommand
	if err := decode(frame, &cmd); err != nil {
		return err
	}
	audience, err := s.audience(ctx, cmd.ChatID, c.identity.ID)
	if err != nil {
		return err
	}
	if frame.Type == event.StartTyping {
		s.relay.StartTyping(audience, cmd.ChatID, c.handle.ID())
	} else {
		s.relay.StopTyping(audience, cmd.ChatID, c.handle.ID())
	}
	return nil
}

func (s *Server) onMembership(ctx context.Context, c *client, frame event.Frame) error {
	var cmd event.ChatCommand
	if err := decode(frame, &cmd); err != nil {
		return err
	}
	audience, err := s.audience(ctx, cmd.ChatID, c.identity.ID)
	if err != nil {
		return err
	}
	if frame.Type == event.ChatJoined {
		s.relay.JoinChat(audience, c.identity.ID)
	} else {
		s.relay.LeaveChat(audience, c.identity.ID)
	}
	return nil
}

// onDeleteMessage removes one of the caller's messages. Every connection of
// the chat, the caller's included, is told through MESSAGE_DELETED.
func (s *Server) onDeleteMessage(ctx context.Context, c *client, frame event.Frame) error {
	var cmd event.DeleteMessageCommand
	if err := decode(frame, &cmd); err != nil {
		return err
	}
	return s.service.DeleteMessage(ctx, c.identity.ID, cmd.MessageID)
}

func (s *Server) onCreateGroup(ctx context.Context, c *client, frame event.Frame) error {
	var cmd event.CreateGroupCommand
	if err := decode(frame, &cmd); err != nil {
		return err
	}
	members := lo.Uniq(append(lo.Without(cmd.Members, c.identity.ID), c.identity.ID))
	chat, err := s.service.CreateGroup(ctx, c.identity.ID, cmd.Name, members)
	if err != nil {
		return err
	}
	c.log.Debug("Group created", "chat_id", chat.ID, "members", len(chat.Members))
	return nil
}

// audience resolves the members of a chat and checks the caller belongs to it.
func (s *Server) audience(ctx context.Context, chatID domain.ChatID, userID domain.UserID) (domain.Audience, error) {
	members, err := s.chats.GetChatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !members.Contains(userID) {
		return nil, errors.ErrNotChatMember
	}
	return members, nil
}

func (s *Server) reject(c *client, requestID string, err error) {
	code := errors.Code(err)
	message := err.Error()
	if code == "internal" {
		message = "internal error"
		c.log.Error("Frame handling failed", "request_id", requestID, "error", err)
	} else {
		c.log.Debug("Frame rejected", "request_id", requestID, "code", code, "error", err)
	}
	s.relay.Notify(c.handle.ID(), event.ErrorEvent(requestID, code, message))
}

func decode(frame event.Frame, into any) error {
	if len(frame.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(frame.Payload, into); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return auth.ValidatePayload(into)
}
