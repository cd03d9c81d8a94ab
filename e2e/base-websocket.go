package e2e

import (
	"chat-relay/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration and skips when no relay is configured
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if !s.Config.Enabled() {
		s.T().Skip("RELAY_ADDR, RELAY_SENDER_TOKEN, RELAY_PEER_TOKEN and RELAY_CHAT_ID must be set")
	}
}

func (s *BaseRelaySuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Peer is one authenticated websocket connection with frame logging.
type Peer struct {
	t     *testing.T
	conn  *websocket.Conn
	debug bool
}

// Dial opens a websocket connection authenticated with a bearer token
func (s *BaseRelaySuite) Dial(name, token string) *Peer {
	t := s.T()
	s.header(t, name)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(s.Config.RelayAddr, header)
	if resp != nil {
		t.Logf("HANDSHAKE %s [%d]", s.Config.RelayAddr, resp.StatusCode)
	}
	s.Require().NoError(err, "Failed to connect to relay at "+s.Config.RelayAddr)

	peer := &Peer{t: t, conn: conn, debug: s.Config.DebugJSON}
	t.Cleanup(func() { _ = conn.Close() })
	return peer
}

func (p *Peer) Send(kind event.Kind, requestID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(event.Frame{Type: kind, RequestID: requestID, Payload: body})
	if err != nil {
		return err
	}
	if p.debug {
		p.t.Logf("SEND %s", frame)
	}
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// Await reads frames until one of the wanted kind arrives.
func (p *Peer) Await(kind event.Kind, timeout time.Duration) (event.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := p.conn.SetReadDeadline(deadline); err != nil {
			return event.Frame{}, err
		}
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return event.Frame{}, err
		}
		if p.debug {
			p.t.Logf("RECV %s", raw)
		}
		var frame event.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return event.Frame{}, err
		}
		if frame.Type == kind {
			return frame, nil
		}
	}
}

// WithHealth provides a gRPC health client within a contextual test step
func (s *BaseRelaySuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	s.header(s.T(), name)
	conn, err := grpc.NewClient(s.Config.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.HealthAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}
