package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
)

// Stage is the position of one inbound message in the ingest state machine.
type Stage string

const (
	StageReceived  Stage = "RECEIVED"
	StagePersisted Stage = "PERSISTED"
	StageProjected Stage = "PROJECTED"
	StageNotified  Stage = "NOTIFIED"
	StageFailed    Stage = "FAILED"
)

type IngestResult struct {
	Stage   Stage
	Message domain.RealtimeMessage
	// Reached counts the connections that accepted the NEW_MESSAGE event.
	Reached int
}

// Ingest persists a chat message and only then notifies the chat audience.
// No lock is held while the durable write is in flight.
type Ingest struct {
	log            *slog.Logger
	repository     repositories.IChatRepository
	router         contract.IRouter
	moderator      contract.IModerator
	persistTimeout time.Duration
	echoToSender   bool
	now            func() time.Time
}

func NewIngest(log *slog.Logger, repository repositories.IChatRepository, router contract.IRouter,
	moderator contract.IModerator, persistTimeout time.Duration, echoToSender bool) *Ingest {
	return &Ingest{
		log:            log,
		repository:     repository,
		router:         router,
		moderator:      moderator,
		persistTimeout: persistTimeout,
		echoToSender:   echoToSender,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs RECEIVED -> PERSISTED -> PROJECTED -> NOTIFIED.
// A persistence failure moves to FAILED, is reported to the sender's connection
// only, and no notification of any kind reaches the audience.
func (i *Ingest) Handle(ctx context.Context, req event.IngestRequest) (IngestResult, error) {
	log := i.log.With("chat_id", req.ChatID, "user_id", req.Sender.ID, "conn_id", req.SenderConn)
	content := i.moderate(log, req.Content)

	stored, err := i.persist(ctx, domain.NewMessage{
		ChatID:    req.ChatID,
		SenderID:  req.Sender.ID,
		Content:   content,
		CreatedAt: i.now(),
	})
	if err != nil {
		log.Error("Message persistence failed", "stage", StageFailed, "error", err)
		i.router.DeliverTo(req.SenderConn, event.ErrorEvent(req.RequestID, errors.Code(err), "message could not be saved"))
		return IngestResult{Stage: StageFailed}, err
	}
	log.Debug("Message persisted", "stage", StagePersisted, "message_id", stored.ID)

	realtime := domain.Project(stored, req.Sender)

	var reached int
	if i.echoToSender {
		reached = i.router.Deliver(req.Audience, event.NewMessageEvent(realtime))
		i.router.Deliver(req.Audience, event.NewMessageAlertEvent(req.ChatID))
	} else {
		reached = i.router.DeliverExcept(req.Audience, event.NewMessageEvent(realtime), req.SenderConn)
		i.router.DeliverExcept(req.Audience, event.NewMessageAlertEvent(req.ChatID), req.SenderConn)
	}
	i.router.DeliverTo(req.SenderConn, event.AckEvent(req.RequestID, stored))

	log.Debug("Message relayed", "stage", StageNotified, "message_id", stored.ID, "reached", reached)
	return IngestResult{Stage: StageNotified, Message: realtime, Reached: reached}, nil
}

func (i *Ingest) persist(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	if i.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.persistTimeout)
		defer cancel()
	}
	stored, err := i.repository.CreateMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", errors.ErrPersistence, err)
	}
	return stored, nil
}

func (i *Ingest) moderate(log *slog.Logger, content string) string {
	if i.moderator == nil {
		return content
	}
	sanitized, found := i.moderator.Censor(content)
	if len(found) > 0 {
		info := whatlanggo.Detect(content)
		log.Info("Message censored", "words", len(found), "lang", info.Lang.Iso6391())
	}
	return sanitized
}
