package websocket

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	engine *runtime.Engine
	server *httptest.Server
	tokens auth.Tokens
	users  repositories.IUserRepository
	chats  repositories.ChatRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		tokens: auth.NewTokens("secret", time.Hour),
		users:  repositories.NewUserRepository(db),
		chats:  repositories.NewChatRepository(db, log),
	}
	f.engine = runtime.NewEngine(log, f.chats, workers.NewSupervisor(log, 10*time.Millisecond), runtime.Options{PersistTimeout: time.Second})
	require.NoError(t, f.engine.Start(context.Background()))

	resolver := auth.NewResolver(log, f.tokens, f.users, "chat-app-token")
	service := services.NewChatService(log, f.chats, f.engine.Router())
	server := NewServer(log, f.engine, resolver, f.chats, service, Config{MaxContentLength: 20})
	f.server = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		f.engine.Stop()
		f.server.Close()
		_ = db.Close()
	})
	return f
}

func (f *fixture) user(username, name string) (domain.UserID, string) {
	user, err := f.users.CreateUser(username, name, "hash")
	require.NoError(f.t, err)
	token, err := f.tokens.Generate(string(user.ID))
	require.NoError(f.t, err)
	return user.ID, token
}

func (f *fixture) chat(members ...domain.UserID) domain.ChatID {
	chat, err := f.chats.CreateChat(context.Background(), domain.Chat{Name: "room", Members: members})
	require.NoError(f.t, err)
	return chat.ID
}

func (f *fixture) dial(token string) *websocket.Conn {
	f.t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *fixture) waitConnections(n int) {
	require.Eventually(f.t, func() bool { return f.engine.Stats().Connections == n }, 2*time.Second, 5*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, kind event.Kind, requestID string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(event.Frame{Type: kind, RequestID: requestID, Payload: body})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) event.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame event.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func payloadOf[T any](t *testing.T, frame event.Frame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(frame.Payload, &out))
	return out
}

func TestServer_Rejects_Unauthenticated_Handshake(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	for _, header := range []http.Header{
		{},
		{"Authorization": []string{"Bearer forged"}},
	} {
		_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)

		req.ErrorIs(err, websocket.ErrBadHandshake)
		req.Equal(http.StatusUnauthorized, resp.StatusCode)
	}
	req.Zero(f.engine.Stats().Connections)
}

func TestServer_Message_Flow(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceID, aliceToken := f.user("alice", "Alice")
	bobID, bobToken := f.user("bob", "Bob")
	chatID := f.chat(aliceID, bobID)

	alice := f.dial(aliceToken)
	bob := f.dial(bobToken)
	f.waitConnections(2)

	// When alice sends a message
	send(t, alice, event.NewMessage, "r1", event.SendMessageCommand{ChatID: chatID, Message: "hello bob"})

	// Then bob gets the message then the alert
	frame := read(t, bob)
	req.Equal(event.NewMessage, frame.Type)
	msg := payloadOf[event.NewMessagePayload](t, frame)
	req.Equal(chatID, msg.ChatID)
	req.Equal("hello bob", msg.Message.Content)
	req.Equal(domain.Sender{ID: aliceID, Name: "Alice"}, msg.Message.Sender)
	req.Equal(event.NewMessageAlert, read(t, bob).Type)

	// And alice gets an acknowledgement for her request
	frame = read(t, alice)
	req.Equal(event.MessageAck, frame.Type)
	req.Equal("r1", frame.RequestID)
	ack := payloadOf[event.AckPayload](t, frame)
	req.Equal(msg.Message.ID, ack.MessageID)
	req.True(msg.Message.CreatedAt.Equal(ack.CreatedAt))

	// And the message is durable
	stored, err := f.chats.GetMessage(context.Background(), msg.Message.ID)
	req.NoError(err)
	req.Equal("hello bob", stored.Content)
}

func TestServer_Presence_And_Typing(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceID, aliceToken := f.user("alice", "Alice")
	bobID, bobToken := f.user("bob", "Bob")
	chatID := f.chat(aliceID, bobID)

	alice := f.dial(aliceToken)
	bob := f.dial(bobToken)
	f.waitConnections(2)

	// When bob opens the chat
	send(t, bob, event.ChatJoined, "", event.ChatCommand{ChatID: chatID})

	// Then both see him online
	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := read(t, conn)
		req.Equal(event.PresenceUpdate, frame.Type)
		req.Equal([]domain.UserID{bobID}, payloadOf[event.PresencePayload](t, frame).OnlineUserIDs)
	}

	// When bob types, only alice is told
	send(t, bob, event.StartTyping, "", event.ChatCommand{ChatID: chatID})
	frame := read(t, alice)
	req.Equal(event.StartTyping, frame.Type)
	req.Equal(chatID, payloadOf[event.ChatPayload](t, frame).ChatID)

	// When bob's only connection drops
	req.NoError(bob.Close())

	// Then alice sees him offline
	frame = read(t, alice)
	req.Equal(event.PresenceUpdate, frame.Type)
	req.Empty(payloadOf[event.PresencePayload](t, frame).OnlineUserIDs)
	f.waitConnections(1)
}

func TestServer_Rejects_Bad_Frames_To_Sender_Only(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceID, aliceToken := f.user("alice", "Alice")
	_, malloryToken := f.user("mallory", "Mallory")
	chatID := f.chat(aliceID)

	mallory := f.dial(malloryToken)
	alice := f.dial(aliceToken)
	f.waitConnections(2)

	cases := []struct {
		name string
		send func()
		code string
	}{
		{"not a member", func() {
			send(t, mallory, event.NewMessage, "r1", event.SendMessageCommand{ChatID: chatID, Message: "let me in"})
		}, "not_member"},
		{"unknown chat", func() {
			send(t, mallory, event.StartTyping, "r2", event.ChatCommand{ChatID: "missing"})
		}, "chat_not_found"},
		{"unknown kind", func() {
			send(t, mallory, event.PresenceUpdate, "r3", event.ChatCommand{ChatID: chatID})
		}, "unknown_event"},
		{"missing field", func() {
			send(t, mallory, event.NewMessage, "r4", event.SendMessageCommand{ChatID: chatID})
		}, "invalid_payload"},
		{"content too long", func() {
			send(t, mallory, event.NewMessage, "r5", event.SendMessageCommand{ChatID: chatID, Message: strings.Repeat("x", 21)})
		}, "invalid_payload"},
		{"garbage", func() {
			req.NoError(mallory.WriteMessage(websocket.TextMessage, []byte("{not json")))
		}, "invalid_payload"},
	}

	for _, tc := range cases {
		tc.send()
		frame := read(t, mallory)
		req.Equal(event.Error, frame.Type, tc.name)
		req.Equal(tc.code, payloadOf[event.ErrorPayload](t, frame).Code, tc.name)
	}

	// Alice saw none of it: the first thing she receives is her own ack
	send(t, alice, event.NewMessage, "ok", event.SendMessageCommand{ChatID: chatID, Message: "still here"})
	frame := read(t, alice)
	req.Equal(event.MessageAck, frame.Type)
	req.Equal("ok", frame.RequestID)
}

func TestServer_Health(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	_, token := f.user("alice", "Alice")
	f.dial(token)
	f.waitConnections(1)

	resp, err := http.Get(f.server.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()

	var stats workers.Stats
	req.NoError(json.NewDecoder(resp.Body).Decode(&stats))
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(workers.Stats{Connections: 1, Users: 1}, stats)
}

func TestServer_Shutdown_Closes_Connections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	_, token := f.user("alice", "Alice")
	conn := f.dial(token)
	f.waitConnections(1)

	f.engine.Stop()

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestCheckOrigin(t *testing.T) {
	req := require.New(t)
	s := &Server{cfg: Config{AllowedOrigins: []string{"https://app.test"}}}

	r := httptest.NewRequest(http.MethodGet, "http://relay.test/ws", nil)
	req.True(s.checkOrigin(r))

	r.Header.Set("Origin", "https://app.test")
	req.True(s.checkOrigin(r))

	r.Header.Set("Origin", "http://relay.test")
	req.True(s.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.test")
	req.False(s.checkOrigin(r))
}

func TestServer_Delete_Message_Reaches_Every_Member_Device(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	aliceID, aliceToken := f.user("alice", "Alice")
	bobID, bobToken := f.user("bob", "Bob")
	chatID := f.chat(aliceID, bobID)

	phone := f.dial(aliceToken)
	laptop := f.dial(aliceToken)
	bob := f.dial(bobToken)
	f.waitConnections(3)

	// Given alice posted from her phone
	send(t, phone, event.NewMessage, "r1", event.SendMessageCommand{ChatID: chatID, Message: "oops"})
	ack := payloadOf[event.AckPayload](t, read(t, phone))
	for _, conn := range []*websocket.Conn{laptop, bob} {
		req.Equal(event.NewMessage, read(t, conn).Type)
		req.Equal(event.NewMessageAlert, read(t, conn).Type)
	}

	// When bob tries to delete it, only bob is refused
	send(t, bob, event.DeleteMessage, "d1", event.DeleteMessageCommand{MessageID: ack.MessageID})
	frame := read(t, bob)
	req.Equal(event.Error, frame.Type)
	req.Equal("d1", frame.RequestID)
	req.Equal("forbidden", payloadOf[event.ErrorPayload](t, frame).Code)

	// When a message that does not exist is deleted
	send(t, phone, event.DeleteMessage, "d2", event.DeleteMessageCommand{MessageID: "missing"})
	frame = read(t, phone)
	req.Equal(event.Error, frame.Type)
	req.Equal("message_not_found", payloadOf[event.ErrorPayload](t, frame).Code)

	// When alice deletes it from her phone
	send(t, phone, event.DeleteMessage, "d3", event.DeleteMessageCommand{MessageID: ack.MessageID})

	// Then every device of the chat is told, the laptop first hearing of nothing else
	for _, conn := range []*websocket.Conn{phone, laptop, bob} {
		frame := read(t, conn)
		req.Equal(event.MessageDeleted, frame.Type)
		deleted := payloadOf[event.MessageDeletedPayload](t, frame)
		req.Equal(chatID, deleted.ChatID)
		req.Equal(ack.MessageID, deleted.MessageID)
	}
	_, err := f.chats.GetMessage(context.Background(), ack.MessageID)
	req.Error(err)
}

func TestServer_Create_Group_Alerts_Members(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	_, aliceToken := f.user("alice", "Alice")
	bobID, bobToken := f.user("bob", "Bob")
	carolID, _ := f.user("carol", "Carol")

	alice := f.dial(aliceToken)
	bob := f.dial(bobToken)
	f.waitConnections(2)

	// When alice creates a group over the socket
	send(t, alice, event.CreateGroup, "g1", event.CreateGroupCommand{Name: "hiking", Members: []domain.UserID{bobID, carolID}})

	// Then both connected members are welcomed and only bob is asked to refetch
	frame := read(t, alice)
	req.Equal(event.Alert, frame.Type)
	alert := payloadOf[event.AlertPayload](t, frame)
	req.Equal("Welcome to hiking group", alert.Message)

	req.Equal(event.Alert, read(t, bob).Type)
	frame = read(t, bob)
	req.Equal(event.Refetch, frame.Type)
	req.Equal(alert.ChatID, payloadOf[event.RefetchPayload](t, frame).ChatID)

	// And the creator is a member of the stored group
	chat, err := f.chats.GetChat(context.Background(), alert.ChatID)
	req.NoError(err)
	req.True(chat.GroupChat)
	req.Len(chat.Members, 3)

	// When the group is too small
	send(t, alice, event.CreateGroup, "g2", event.CreateGroupCommand{Name: "solo", Members: []domain.UserID{bobID}})
	frame = read(t, alice)
	req.Equal(event.Error, frame.Type)
	req.Equal("invalid_payload", payloadOf[event.ErrorPayload](t, frame).Code)
}

func TestServer_Refuses_Handshake_After_Shutdown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	_, token := f.user("alice", "Alice")

	// Given the engine is already stopped
	f.engine.Stop()

	// When a client still completes the upgrade
	conn := f.dial(token)

	// Then it is told the relay is going away and nothing is registered
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	req.Zero(f.engine.Stats().Connections)
}
