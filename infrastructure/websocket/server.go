// Package websocket exposes the relay over gorilla/websocket connections.
// One goroutine per connection reads and dispatches frames sequentially,
// a second one drains the connection's outbound events.
package websocket

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Relay is the part of the engine the transport drives.
type Relay interface {
	Connect(identity domain.Identity, conn contract.Connection) bool
	Disconnect(connID domain.ConnID)
	SendMessage(ctx context.Context, req event.IngestRequest) (runtime.IngestResult, error)
	JoinChat(audience domain.Audience, userID domain.UserID) int
	LeaveChat(audience domain.Audience, userID domain.UserID) int
	StartTyping(audience domain.Audience, chatID domain.ChatID, from domain.ConnID) int
	StopTyping(audience domain.Audience, chatID domain.ChatID, from domain.ConnID) int
	Notify(connID domain.ConnID, evt event.Event) bool
	Stats() workers.Stats
}

type Config struct {
	MaxMessageSize       int64
	MaxContentLength     int
	ConnectionBufferSize int
	AllowedOrigins       []string
	PingPeriod           time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
}

func (c Config) withDefaults() Config {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ConnectionBufferSize <= 0 {
		c.ConnectionBufferSize = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	return c
}

type Server struct {
	log      *slog.Logger
	relay    Relay
	resolver contract.IIdentityResolver
	chats    repositories.IChatRepository
	service  services.IChatService
	cfg      Config
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

func NewServer(log *slog.Logger, relay Relay, resolver contract.IIdentityResolver,
	chats repositories.IChatRepository, service services.IChatService, cfg Config) *Server {
	s := &Server{
		log:      log,
		relay:    relay,
		resolver: resolver,
		chats:    chats,
		service:  service,
		cfg:      cfg.withDefaults(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

// ServeWS authenticates the handshake before upgrading. A rejected handshake
// gets a 401 and leaves no state behind.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.resolver.Authenticate(r.Context(), r)
	if err != nil {
		s.log.Warn("Websocket handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	handle := sink.NewConnectionSink(identity.ID, s.cfg.ConnectionBufferSize)
	c := newClient(s, conn, handle, identity, r.RemoteAddr)
	if !s.relay.Connect(identity, handle) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(s.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	c.readPump(r.Context())

	s.relay.Disconnect(handle.ID())
	_ = handle.Close()
}

// Wait blocks until every write pump has exited, or the timeout elapses.
func (s *Server) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.relay.Stats())
}

// checkOrigin accepts requests without an Origin header, same-host origins,
// and any origin listed in the configuration.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if lo.Contains(s.cfg.AllowedOrigins, origin) || lo.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
