// Package domain contains core concepts of the chat relay.
// This file defines Message records and their realtime projection.
// Messages are immutable once persisted.
package domain

import (
	"time"
)

// Message is the durable record returned by the persistence service.
type Message struct {
	ID        MessageID
	ChatID    ChatID
	SenderID  UserID
	Content   string
	CreatedAt time.Time
}

// NewMessage is what the ingest pipeline asks the persistence service to store.
type NewMessage struct {
	ChatID    ChatID
	SenderID  UserID
	Content   string
	CreatedAt time.Time
}

type Sender struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// RealtimeMessage is the projection pushed to clients once the record is durable.
// It is never stored and only lives for the duration of a fan-out.
type RealtimeMessage struct {
	ID        MessageID `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	ChatID    ChatID    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project builds the realtime view of a persisted message.
// The sender display name is supplied by the caller and never refetched.
func Project(stored Message, sender Identity) RealtimeMessage {
	return RealtimeMessage{
		ID:      stored.ID,
		Content: stored.Content,
		Sender: Sender{
			ID:   stored.SenderID,
			Name: sender.DisplayName,
		},
		ChatID:    stored.ChatID,
		CreatedAt: stored.CreatedAt,
	}
}
