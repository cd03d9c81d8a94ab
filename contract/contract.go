//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"net/http"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is the handle of one live bidirectional channel to a client.
// Send must never block: a full or closed channel is reported as an error.
type Connection interface {
	ID() domain.ConnID
	Send(e event.Event) error
	Close() error
}

type IRegistry interface {
	Register(userID domain.UserID, conn Connection)
	Unregister(connID domain.ConnID)
	Resolve(audience domain.Audience) []Connection
	Lookup(connID domain.ConnID) (Connection, bool)
	All() []Connection
	IsConnected(userID domain.UserID) bool
}

type IRouter interface {
	Deliver(audience domain.Audience, e event.Event) int
	DeliverExcept(audience domain.Audience, e event.Event, skip domain.ConnID) int
	DeliverTo(connID domain.ConnID, e event.Event) bool
	Broadcast(e event.Event) int
}

// IIdentityResolver authenticates a connection handshake before anything is registered.
type IIdentityResolver interface {
	Authenticate(ctx context.Context, r *http.Request) (domain.Identity, error)
}

type IModerator interface {
	Censor(content string) (string, []string)
}
