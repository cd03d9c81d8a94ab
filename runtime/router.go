package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"log/slog"
)

// Router broadcasts events to the live connections of an audience.
//
// It provides best-effort fan-out: at most one attempt per connection, no retry,
// no ordering across concurrent calls. A failing connection never stops the
// delivery to the rest of the audience.
//
// Router is safe for concurrent use by multiple goroutines.
type Router struct {
	log      *slog.Logger
	registry contract.IRegistry
}

func NewRouter(log *slog.Logger, registry contract.IRegistry) *Router {
	return &Router{log: log, registry: registry}
}

// Deliver pushes the event to every connection of the audience and returns
// how many connections accepted it.
func (r *Router) Deliver(audience domain.Audience, e event.Event) int {
	return r.send(r.registry.Resolve(audience), e, "")
}

// DeliverExcept behaves like Deliver but skips one connection, typically the originating one.
func (r *Router) DeliverExcept(audience domain.Audience, e event.Event, skip domain.ConnID) int {
	return r.send(r.registry.Resolve(audience), e, skip)
}

// DeliverTo addresses a single connection, used for acknowledgements and errors.
func (r *Router) DeliverTo(connID domain.ConnID, e event.Event) bool {
	conn, ok := r.registry.Lookup(connID)
	if !ok {
		r.log.Debug("Connection gone before direct delivery", "conn_id", connID, "kind", e.Kind)
		return false
	}
	return r.send([]contract.Connection{conn}, e, "") == 1
}

// Broadcast reaches every live connection.
func (r *Router) Broadcast(e event.Event) int {
	return r.send(r.registry.All(), e, "")
}

func (r *Router) send(conns []contract.Connection, e event.Event, skip domain.ConnID) int {
	reached := 0
	for _, conn := range conns {
		if skip != "" && conn.ID() == skip {
			continue
		}
		if err := conn.Send(e); err != nil {
			r.log.Debug("Delivery failed, dropping", "conn_id", conn.ID(), "kind", e.Kind, "error", err)
			continue
		}
		reached++
	}
	r.log.Debug("Event delivered", "kind", e.Kind, "targets", len(conns), "reached", reached)
	return reached
}
