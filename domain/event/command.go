package event

import "chat-relay/domain"

// SendMessageCommand is the payload of an inbound NEW_MESSAGE frame.
type SendMessageCommand struct {
	ChatID  domain.ChatID `json:"chatId" validate:"required"`
	Message string        `json:"message" validate:"required"`
}

// ChatCommand is the payload of inbound typing and join/leave frames.
type ChatCommand struct {
	ChatID domain.ChatID `json:"chatId" validate:"required"`
}

// DeleteMessageCommand is the payload of an inbound DELETE_MESSAGE frame.
type DeleteMessageCommand struct {
	MessageID domain.MessageID `json:"messageId" validate:"required"`
}

// CreateGroupCommand is the payload of an inbound CREATE_GROUP frame.
// The caller is added to Members as the creator.
type CreateGroupCommand struct {
	Name    string          `json:"name" validate:"required,max=64"`
	Members []domain.UserID `json:"members" validate:"min=2,max=100,dive,required"`
}

// IngestRequest is the input of the message ingest pipeline.
// Audience holds the chat members as resolved by the persistence service.
type IngestRequest struct {
	RequestID  string
	ChatID     domain.ChatID
	Audience   domain.Audience
	Content    string
	Sender     domain.Identity
	SenderConn domain.ConnID
}
