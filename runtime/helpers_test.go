package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/sink"
	"log/slog"

	"github.com/mama165/sdk-go/logs"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func newConn(userID domain.UserID) *sink.ConnectionSink {
	return sink.NewConnectionSink(userID, 16)
}

// drain returns every event buffered on the connection so far.
func drain(conn *sink.ConnectionSink) []event.Event {
	var out []event.Event
	for {
		select {
		case e, ok := <-conn.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}
