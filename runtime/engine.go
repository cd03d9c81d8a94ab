// Package runtime owns the live state of the relay: which connections belong
// to which user, who is present, and how events reach them.
// It holds no chat membership truth; audiences are always supplied by the caller.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"sync"
	"time"
)

type Options struct {
	PersistTimeout time.Duration
	EchoToSender   bool
	MetricInterval time.Duration
	Moderator      contract.IModerator
}

// Engine is constructed once at server start and torn down by Stop,
// which releases every connection handle.
type Engine struct {
	mu         sync.Mutex
	log        *slog.Logger
	registry   *Registry
	router     *Router
	presence   *Presence
	ingest     *Ingest
	supervisor contract.ISupervisor
	cancel     context.CancelFunc
	done       chan struct{}
	running    bool
}

func NewEngine(log *slog.Logger, chats repositories.IChatRepository, supervisor contract.ISupervisor, opts Options) *Engine {
	registry := NewRegistry()
	router := NewRouter(log, registry)
	presence := NewPresence(log, registry, router)
	registry.OnFullyDisconnected(presence.OnFullyDisconnected)

	e := &Engine{
		log:        log,
		registry:   registry,
		router:     router,
		presence:   presence,
		ingest:     NewIngest(log, chats, router, opts.Moderator, opts.PersistTimeout, opts.EchoToSender),
		supervisor: supervisor,
	}
	if opts.MetricInterval > 0 {
		supervisor.Add(workers.NewTelemetryWorker(log, opts.MetricInterval, e.Stats))
	}
	return e
}

// Start launches the supervised background workers and returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.done = make(chan struct{})
	ctx, e.cancel = context.WithCancel(ctx)

	e.log.Info("Starting engine and supervised workers")
	go func(done chan struct{}) {
		defer close(done)
		e.supervisor.Run(ctx)
	}(e.done)
	return nil
}

// Stop halts the workers, closes every registered connection and clears presence.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false

	e.log.Info("Requesting engine shutdown")
	e.supervisor.Stop()
	e.cancel()
	<-e.done

	closed := e.registry.Close()
	e.presence.Reset()
	e.log.Info("Engine stopped", "closed_connections", closed)
}

// Connect records a freshly authenticated connection. A stopped engine
// refuses it and closes the handle, so a handshake racing Stop leaks nothing.
func (e *Engine) Connect(identity domain.Identity, conn contract.Connection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		_ = conn.Close()
		e.log.Debug("Connection refused, engine stopped", "user_id", identity.ID, "conn_id", conn.ID())
		return false
	}
	e.registry.Register(identity.ID, conn)
	e.log.Debug("Connection registered", "user_id", identity.ID, "conn_id", conn.ID(),
		"connections", e.registry.Count())
	return true
}

// Disconnect forgets a connection. Presence is cleaned up when it was the user's last one.
func (e *Engine) Disconnect(connID domain.ConnID) {
	e.registry.Unregister(connID)
	e.log.Debug("Connection unregistered", "conn_id", connID, "connections", e.registry.Count())
}

func (e *Engine) SendMessage(ctx context.Context, req event.IngestRequest) (IngestResult, error) {
	return e.ingest.Handle(ctx, req)
}

func (e *Engine) JoinChat(audience domain.Audience, userID domain.UserID) int {
	return e.presence.Join(audience, userID)
}

func (e *Engine) LeaveChat(audience domain.Audience, userID domain.UserID) int {
	return e.presence.Leave(audience, userID)
}

func (e *Engine) StartTyping(audience domain.Audience, chatID domain.ChatID, from domain.ConnID) int {
	return e.presence.StartTyping(audience, chatID, from)
}

func (e *Engine) StopTyping(audience domain.Audience, chatID domain.ChatID, from domain.ConnID) int {
	return e.presence.StopTyping(audience, chatID, from)
}

// Notify sends one event to one connection, typically an error acknowledgement.
func (e *Engine) Notify(connID domain.ConnID, evt event.Event) bool {
	return e.router.DeliverTo(connID, evt)
}

func (e *Engine) Router() contract.IRouter { return e.router }

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Presence() *Presence { return e.presence }

func (e *Engine) Stats() workers.Stats {
	return workers.Stats{
		Connections: e.registry.Count(),
		Users:       e.registry.UserCount(),
		Online:      len(e.presence.Online()),
	}
}
