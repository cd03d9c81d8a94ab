package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Presence tracks users actively viewing a chat and broadcasts the snapshot on every change.
// A user is never kept present once its last connection is gone.
type Presence struct {
	mu       sync.Mutex
	log      *slog.Logger
	registry contract.IRegistry
	router   contract.IRouter
	online   map[domain.UserID]struct{}
}

func NewPresence(log *slog.Logger, registry contract.IRegistry, router contract.IRouter) *Presence {
	return &Presence{
		log:      log,
		registry: registry,
		router:   router,
		online:   make(map[domain.UserID]struct{}),
	}
}

// Join marks the user present and sends the snapshot to the chat audience.
// Joining twice re-broadcasts. A user with no live connection is not added,
// which closes the window where a join races its own disconnect.
func (p *Presence) Join(audience domain.Audience, userID domain.UserID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registry.IsConnected(userID) {
		p.online[userID] = struct{}{}
	} else {
		p.log.Debug("Join ignored, user has no live connection", "user_id", userID)
	}
	return p.router.Deliver(audience, event.PresenceEvent(p.snapshotLocked()))
}

// Leave removes the user and sends the snapshot to the chat audience.
// Leaving while absent still broadcasts.
func (p *Presence) Leave(audience domain.Audience, userID domain.UserID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.online, userID)
	return p.router.Deliver(audience, event.PresenceEvent(p.snapshotLocked()))
}

// OnFullyDisconnected is fired by the registry when the user's last connection is gone.
// Chat membership is unknown at this point so the snapshot goes to every live connection.
func (p *Presence) OnFullyDisconnected(userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registry.IsConnected(userID) {
		p.log.Debug("User reconnected before presence cleanup", "user_id", userID)
		return
	}
	delete(p.online, userID)
	reached := p.router.Broadcast(event.PresenceEvent(p.snapshotLocked()))
	p.log.Debug("Presence cleared on disconnect", "user_id", userID, "reached", reached)
}

// StartTyping and StopTyping are stateless pass-throughs: nothing survives
// between them, so a client vanishing mid-typing leaves nothing to clean up.
func (p *Presence) StartTyping(audience domain.Audience, chatID domain.ChatID, skip domain.ConnID) int {
	return p.router.DeliverExcept(audience, event.TypingEvent(event.StartTyping, chatID), skip)
}

func (p *Presence) StopTyping(audience domain.Audience, chatID domain.ChatID, skip domain.ConnID) int {
	return p.router.DeliverExcept(audience, event.TypingEvent(event.StopTyping, chatID), skip)
}

// Online returns a sorted copy of the presence set.
func (p *Presence) Online() []domain.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presence) IsOnline(userID domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Reset empties the set on shutdown.
func (p *Presence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[domain.UserID]struct{})
}

func (p *Presence) snapshotLocked() []domain.UserID {
	users := lo.Keys(p.online)
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
