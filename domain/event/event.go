package event

import (
	"chat-relay/domain"
	"encoding/json"
	"time"
)

// Kind tags the payload carried by an Event.
type Kind string

const (
	NewMessage      Kind = "NEW_MESSAGE"
	NewMessageAlert Kind = "NEW_MESSAGE_ALERT"
	StartTyping     Kind = "START_TYPING"
	StopTyping      Kind = "STOP_TYPING"
	PresenceUpdate  Kind = "PRESENCE_UPDATE"
	MessageDeleted  Kind = "MESSAGE_DELETED"
	Alert           Kind = "ALERT"
	Refetch         Kind = "REFETCH"
	MessageAck      Kind = "MESSAGE_ACK"
	Error           Kind = "ERROR"

	// Client originated only.
	ChatJoined    Kind = "CHAT_JOINED"
	ChatLeft      Kind = "CHAT_LEFT"
	DeleteMessage Kind = "DELETE_MESSAGE"
	CreateGroup   Kind = "CREATE_GROUP"
)

// Event is a tagged payload addressed to an audience.
// It is built and discarded within a single handling cycle.
type Event struct {
	Kind      Kind
	RequestID string
	Payload   any
}

type NewMessagePayload struct {
	ChatID  domain.ChatID          `json:"chatId"`
	Message domain.RealtimeMessage `json:"message"`
}

type ChatPayload struct {
	ChatID domain.ChatID `json:"chatId"`
}

type PresencePayload struct {
	OnlineUserIDs []domain.UserID `json:"onlineUserIds"`
}

type MessageDeletedPayload struct {
	ChatID    domain.ChatID    `json:"chatId"`
	MessageID domain.MessageID `json:"messageId"`
}

type AlertPayload struct {
	ChatID  domain.ChatID `json:"chatId,omitempty"`
	Message string        `json:"message"`
}

type RefetchPayload struct {
	ChatID domain.ChatID `json:"chatId,omitempty"`
}

type AckPayload struct {
	ChatID    domain.ChatID    `json:"chatId"`
	MessageID domain.MessageID `json:"messageId"`
	CreatedAt time.Time        `json:"createdAt"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewMessageEvent(msg domain.RealtimeMessage) Event {
	return Event{Kind: NewMessage, Payload: NewMessagePayload{ChatID: msg.ChatID, Message: msg}}
}

func NewMessageAlertEvent(chatID domain.ChatID) Event {
	return Event{Kind: NewMessageAlert, Payload: ChatPayload{ChatID: chatID}}
}

func TypingEvent(kind Kind, chatID domain.ChatID) Event {
	return Event{Kind: kind, Payload: ChatPayload{ChatID: chatID}}
}

func PresenceEvent(online []domain.UserID) Event {
	if online == nil {
		online = []domain.UserID{}
	}
	return Event{Kind: PresenceUpdate, Payload: PresencePayload{OnlineUserIDs: online}}
}

func MessageDeletedEvent(chatID domain.ChatID, messageID domain.MessageID) Event {
	return Event{Kind: MessageDeleted, Payload: MessageDeletedPayload{ChatID: chatID, MessageID: messageID}}
}

func AlertEvent(chatID domain.ChatID, message string) Event {
	return Event{Kind: Alert, Payload: AlertPayload{ChatID: chatID, Message: message}}
}

func RefetchEvent(chatID domain.ChatID) Event {
	return Event{Kind: Refetch, Payload: RefetchPayload{ChatID: chatID}}
}

func AckEvent(requestID string, stored domain.Message) Event {
	return Event{Kind: MessageAck, RequestID: requestID, Payload: AckPayload{
		ChatID:    stored.ChatID,
		MessageID: stored.ID,
		CreatedAt: stored.CreatedAt,
	}}
}

func ErrorEvent(requestID, code, message string) Event {
	return Event{Kind: Error, RequestID: requestID, Payload: ErrorPayload{Code: code, Message: message}}
}

// Frame is the wire envelope exchanged over a connection in both directions.
type Frame struct {
	Type      Kind            `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Encode renders the event as a wire frame.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: e.Kind, RequestID: e.RequestID, Payload: payload})
}
