package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/mocks"
	"chat-relay/runtime/workers"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *mocks.MockIChatRepository) {
	repo := mocks.NewMockIChatRepository(gomock.NewController(t))
	sup := workers.NewSupervisor(testLogger(), 10*time.Millisecond)
	return NewEngine(testLogger(), repo, sup, opts), repo
}

func TestEngine_Stop_Releases_Every_Handle(t *testing.T) {
	req := require.New(t)
	engine, _ := newTestEngine(t, Options{MetricInterval: 10 * time.Millisecond})
	req.NoError(engine.Start(context.Background()))

	alice, bob := newConn("alice"), newConn("bob")
	engine.Connect(domain.Identity{ID: "alice", DisplayName: "Alice"}, alice)
	engine.Connect(domain.Identity{ID: "bob", DisplayName: "Bob"}, bob)
	engine.JoinChat(domain.Audience{"alice", "bob"}, "alice")
	req.Equal(workers.Stats{Connections: 2, Users: 2, Online: 1}, engine.Stats())

	// When the engine stops
	engine.Stop()

	// Then every handle is closed and nothing is left behind
	req.True(alice.Closed())
	req.True(bob.Closed())
	req.Equal(workers.Stats{}, engine.Stats())

	// And stopping again is harmless
	engine.Stop()
}

func TestEngine_Message_Flow(t *testing.T) {
	req := require.New(t)
	engine, repo := newTestEngine(t, Options{PersistTimeout: time.Second})
	req.NoError(engine.Start(context.Background()))
	defer engine.Stop()

	alice, bob := newConn("alice"), newConn("bob")
	engine.Connect(domain.Identity{ID: "alice", DisplayName: "Alice"}, alice)
	engine.Connect(domain.Identity{ID: "bob", DisplayName: "Bob"}, bob)
	audience := domain.Audience{"alice", "bob"}

	repo.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).DoAndReturn(storeAs("msg-1"))

	// Given bob sees alice typing
	engine.StartTyping(audience, "chat-1", alice.ID())

	// When alice sends a message and stops typing
	result, err := engine.SendMessage(context.Background(), event.IngestRequest{
		RequestID:  "req-1",
		ChatID:     "chat-1",
		Audience:   audience,
		Content:    "hi bob",
		Sender:     domain.Identity{ID: "alice", DisplayName: "Alice"},
		SenderConn: alice.ID(),
	})
	engine.StopTyping(audience, "chat-1", alice.ID())

	// Then bob receives the whole sequence in order
	req.NoError(err)
	req.Equal(1, result.Reached)
	req.Equal([]event.Kind{event.StartTyping, event.NewMessage, event.NewMessageAlert, event.StopTyping}, kinds(drain(bob)))
	req.Equal([]event.Kind{event.MessageAck}, kinds(drain(alice)))
}

func TestEngine_Disconnect_Clears_Presence(t *testing.T) {
	req := require.New(t)
	engine, _ := newTestEngine(t, Options{})
	req.NoError(engine.Start(context.Background()))
	defer engine.Stop()

	alice, bob := newConn("alice"), newConn("bob")
	engine.Connect(domain.Identity{ID: "alice"}, alice)
	engine.Connect(domain.Identity{ID: "bob"}, bob)
	engine.JoinChat(domain.Audience{"alice", "bob"}, "alice")
	drain(bob)

	engine.Disconnect(alice.ID())
	engine.Disconnect(alice.ID())

	req.False(engine.Presence().IsOnline("alice"))
	req.Equal([]event.Kind{event.PresenceUpdate}, kinds(drain(bob)))
	req.True(engine.Notify(bob.ID(), event.AlertEvent("", "maintenance")))
	req.False(engine.Notify(alice.ID(), event.AlertEvent("", "maintenance")))
}

func TestEngine_Refuses_Connections_Once_Stopped(t *testing.T) {
	req := require.New(t)
	engine, _ := newTestEngine(t, Options{})

	// Given an engine that was never started
	early := newConn("alice")
	req.False(engine.Connect(domain.Identity{ID: "alice"}, early))
	req.True(early.Closed())

	// When it runs then stops
	req.NoError(engine.Start(context.Background()))
	alive := newConn("alice")
	req.True(engine.Connect(domain.Identity{ID: "alice"}, alive))
	engine.Stop()

	// Then a handshake finishing after Stop is closed and never registered
	late := newConn("bob")
	req.False(engine.Connect(domain.Identity{ID: "bob"}, late))
	req.True(late.Closed())
	req.True(alive.Closed())
	req.Equal(workers.Stats{}, engine.Stats())
}
