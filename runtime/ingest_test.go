package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/sink"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ingestFixture struct {
	registry *Registry
	repo     *mocks.MockIChatRepository
	origin   *sink.ConnectionSink
	other    *sink.ConnectionSink
	bob      *sink.ConnectionSink
	request  event.IngestRequest
}

func newIngestFixture(t *testing.T) *ingestFixture {
	ctrl := gomock.NewController(t)
	f := &ingestFixture{
		registry: NewRegistry(),
		repo:     mocks.NewMockIChatRepository(ctrl),
		origin:   newConn("alice"),
		other:    newConn("alice"),
		bob:      newConn("bob"),
	}
	f.registry.Register("alice", f.origin)
	f.registry.Register("alice", f.other)
	f.registry.Register("bob", f.bob)
	f.request = event.IngestRequest{
		RequestID:  "req-1",
		ChatID:     "chat-1",
		Audience:   domain.Audience{"alice", "bob"},
		Content:    "hello",
		Sender:     domain.Identity{ID: "alice", DisplayName: "Alice"},
		SenderConn: f.origin.ID(),
	}
	return f
}

func (f *ingestFixture) ingest(echo bool, timeout time.Duration) *Ingest {
	return NewIngest(testLogger(), f.repo, NewRouter(testLogger(), f.registry), nil, timeout, echo)
}

func storeAs(id domain.MessageID) func(context.Context, domain.NewMessage) (domain.Message, error) {
	return func(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
		return domain.Message{
			ID:        id,
			ChatID:    msg.ChatID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}, nil
	}
}

func TestIngest_Persists_Then_Notifies_Every_Other_Handle(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	f.repo.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).DoAndReturn(storeAs("msg-1")).Times(1)

	// When alice sends a message from one of her devices
	result, err := f.ingest(false, time.Second).Handle(context.Background(), f.request)

	// Then it went through every stage
	req.NoError(err)
	req.Equal(StageNotified, result.Stage)
	req.Equal(2, result.Reached)
	req.Equal(domain.MessageID("msg-1"), result.Message.ID)
	req.Equal(domain.Sender{ID: "alice", Name: "Alice"}, result.Message.Sender)

	// And bob and alice's other device get one NEW_MESSAGE then one alert
	for _, conn := range []*sink.ConnectionSink{f.bob, f.other} {
		events := drain(conn)
		req.Equal([]event.Kind{event.NewMessage, event.NewMessageAlert}, kinds(events))
		payload := events[0].Payload.(event.NewMessagePayload)
		req.Equal(result.Message.ID, payload.Message.ID)
		req.Equal(result.Message.CreatedAt, payload.Message.CreatedAt)
		req.Equal(domain.ChatID("chat-1"), payload.ChatID)
	}

	// And the originating connection only gets the acknowledgement
	events := drain(f.origin)
	req.Equal([]event.Kind{event.MessageAck}, kinds(events))
	req.Equal("req-1", events[0].RequestID)
	ack := events[0].Payload.(event.AckPayload)
	req.Equal(result.Message.ID, ack.MessageID)
	req.Equal(result.Message.CreatedAt, ack.CreatedAt)
}

func TestIngest_Echo_To_Sender(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	f.repo.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).DoAndReturn(storeAs("msg-1"))

	result, err := f.ingest(true, 0).Handle(context.Background(), f.request)

	req.NoError(err)
	req.Equal(3, result.Reached)
	req.Equal([]event.Kind{event.NewMessage, event.NewMessageAlert, event.MessageAck}, kinds(drain(f.origin)))
	req.Equal([]event.Kind{event.NewMessage, event.NewMessageAlert}, kinds(drain(f.bob)))
}

func TestIngest_Persistence_Failure_Notifies_Nobody_But_The_Sender(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	f.repo.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		Return(domain.Message{}, fmt.Errorf("disk full"))

	// When the durable write fails
	result, err := f.ingest(false, time.Second).Handle(context.Background(), f.request)

	// Then the pipeline stops in FAILED
	req.ErrorIs(err, errors.ErrPersistence)
	req.Equal(StageFailed, result.Stage)
	req.Zero(result.Reached)

	// And no member receives anything
	req.Empty(drain(f.bob))
	req.Empty(drain(f.other))

	// And only the sender's connection gets the error
	events := drain(f.origin)
	req.Len(events, 1)
	req.Equal(event.Error, events[0].Kind)
	req.Equal("req-1", events[0].RequestID)
	req.Equal("persistence_failed", events[0].Payload.(event.ErrorPayload).Code)
}

func TestIngest_Persistence_Timeout(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	f.repo.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.NewMessage) (domain.Message, error) {
			<-ctx.Done()
			return domain.Message{}, ctx.Err()
		})

	result, err := f.ingest(false, 20*time.Millisecond).Handle(context.Background(), f.request)

	req.ErrorIs(err, errors.ErrPersistence)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.Equal(StageFailed, result.Stage)
	req.Empty(drain(f.bob))
}

func TestIngest_Moderates_Before_Persisting(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	moderator := mocks.NewMockIModerator(gomock.NewController(t))
	moderator.EXPECT().Censor("hello").Return("h***o", []string{"ell"})
	f.repo.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
			req.Equal("h***o", msg.Content)
			return storeAs("msg-1")(ctx, msg)
		})

	ingest := NewIngest(testLogger(), f.repo, NewRouter(testLogger(), f.registry), moderator, 0, false)
	result, err := ingest.Handle(context.Background(), f.request)

	req.NoError(err)
	req.Equal("h***o", result.Message.Content)
}

func TestIngest_Sender_Gone_Before_Ack(t *testing.T) {
	req := require.New(t)
	f := newIngestFixture(t)
	f.repo.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
			// The sender disconnects while the write is in flight
			f.registry.Unregister(f.origin.ID())
			return storeAs("msg-1")(ctx, msg)
		})

	result, err := f.ingest(false, 0).Handle(context.Background(), f.request)

	req.NoError(err)
	req.Equal(StageNotified, result.Stage)
	req.Len(drain(f.bob), 2)
	req.Empty(drain(f.origin))
}
