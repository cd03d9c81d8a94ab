package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/sink"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_Deliver_Reaches_Every_Handle_Of_Audience(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(testLogger(), registry)
	alicePhone, aliceLaptop, bob, carol := newConn("alice"), newConn("alice"), newConn("bob"), newConn("carol")
	registry.Register("alice", alicePhone)
	registry.Register("alice", aliceLaptop)
	registry.Register("bob", bob)
	registry.Register("carol", carol)

	// When an alert is delivered to alice and bob
	reached := router.Deliver(domain.Audience{"alice", "bob", "dave"}, event.NewMessageAlertEvent("chat-1"))

	// Then each of their handles gets exactly one event, carol gets nothing
	req.Equal(3, reached)
	req.Len(drain(alicePhone), 1)
	req.Len(drain(aliceLaptop), 1)
	req.Len(drain(bob), 1)
	req.Empty(drain(carol))
}

func TestRouter_Deliver_Swallows_Failing_Handles(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(testLogger(), registry)
	closed := newConn("alice")
	full := sink.NewConnectionSink("bob", 1)
	healthy := newConn("carol")
	registry.Register("alice", closed)
	registry.Register("bob", full)
	registry.Register("carol", healthy)

	// Given one closed handle and one with a full buffer
	req.NoError(closed.Close())
	req.NoError(full.Send(event.RefetchEvent("")))

	// When delivering to everyone
	reached := router.Deliver(domain.Audience{"alice", "bob", "carol"}, event.AlertEvent("chat-1", "hello"))

	// Then only the healthy handle counts and delivery carried on
	req.Equal(1, reached)
	req.Len(drain(healthy), 1)
	req.Equal([]event.Kind{event.Refetch}, kinds(drain(full)))
}

func TestRouter_DeliverExcept_Skips_Originating_Handle(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(testLogger(), registry)
	origin, otherDevice, bob := newConn("alice"), newConn("alice"), newConn("bob")
	registry.Register("alice", origin)
	registry.Register("alice", otherDevice)
	registry.Register("bob", bob)

	reached := router.DeliverExcept(domain.Audience{"alice", "bob"}, event.TypingEvent(event.StartTyping, "chat-1"), origin.ID())

	req.Equal(2, reached)
	req.Empty(drain(origin))
	req.Len(drain(otherDevice), 1)
	req.Len(drain(bob), 1)
}

func TestRouter_DeliverTo_And_Broadcast(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	router := NewRouter(testLogger(), registry)
	alice, bob := newConn("alice"), newConn("bob")
	registry.Register("alice", alice)
	registry.Register("bob", bob)

	req.True(router.DeliverTo(alice.ID(), event.ErrorEvent("req-1", "invalid_payload", "bad")))
	req.False(router.DeliverTo("gone", event.ErrorEvent("req-2", "invalid_payload", "bad")))
	req.Equal(2, router.Broadcast(event.PresenceEvent(nil)))

	req.Equal([]event.Kind{event.Error, event.PresenceUpdate}, kinds(drain(alice)))
	req.Equal([]event.Kind{event.PresenceUpdate}, kinds(drain(bob)))
}

func TestRouter_Deliver_Empty_Audience(t *testing.T) {
	req := require.New(t)
	router := NewRouter(testLogger(), NewRegistry())

	req.Zero(router.Deliver(nil, event.NewMessageAlertEvent("chat-1")))
	req.Zero(router.Broadcast(event.PresenceEvent(nil)))
}
