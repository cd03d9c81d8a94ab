package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "chat-relay"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns the server lifecycle so deferred
// cleanup always executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Persistence service (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	chats := repositories.NewChatRepository(db, log)
	users := repositories.NewUserRepository(db)

	// 3. Engine, supervision and optional moderation
	opts := runtime.Options{
		PersistTimeout: config.PersistTimeout,
		EchoToSender:   config.EchoToSender,
		MetricInterval: config.MetricInterval,
	}
	if config.CensoredWordsFile != "" {
		moderator, err := newModerator(config, log)
		if err != nil {
			return err
		}
		opts.Moderator = moderator
	}
	sup := workers.NewSupervisor(log, config.RestartInterval)
	engine := runtime.NewEngine(log, chats, sup, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = engine.Start(ctx); err != nil {
		return fmt.Errorf("engine failed to start: %w", err)
	}

	// 4. Websocket transport
	resolver := auth.NewResolver(log, auth.NewTokens(config.JwtSecret, config.AuthTokenDuration), users, config.TokenCookieName)
	chatService := services.NewChatService(log, chats, engine.Router())
	wsServer := websocket.NewServer(log, engine, resolver, chats, chatService, websocket.Config{
		MaxMessageSize:       config.MaxMessageSize,
		MaxContentLength:     config.MaxContentLength,
		ConnectionBufferSize: config.ConnectionBufferSize,
		AllowedOrigins:       config.Origins(),
	})
	httpServer := &http.Server{
		Addr:              config.Address(),
		Handler:           wsServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. gRPC health
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.Host, config.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", config.GrpcPort, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errChan := make(chan error, 3)
	go func() {
		log.Info("Starting websocket server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		log.Info("Starting gRPC health server", "address", grpcListener.Addr().String())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	var debugServer *http.Server
	if config.DebugPort > 0 {
		debugServer = internal.NewDebugServer(db, config.DebugPort, internal.RelayMapper, func() map[string]any {
			stats := engine.Stats()
			return map[string]any{
				"connections": stats.Connections,
				"users":       stats.Users,
				"online":      stats.Online,
			}
		})
		go func() {
			log.Info("Starting debug inspector", "address", debugServer.Addr)
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		log.Error("Server failure, shutting down", "error", err)
		shutdown(log, config, healthServer, grpcServer, httpServer, debugServer, engine, wsServer)
		return err
	}

	shutdown(log, config, healthServer, grpcServer, httpServer, debugServer, engine, wsServer)
	log.Info("Program stopped cleanly")
	return nil
}

// shutdown stops accepting connections, then closes every live handle so
// each connection's write pump sends a close frame.
func shutdown(log *slog.Logger, config internal.Config, healthServer *health.Server, grpcServer *grpc.Server,
	httpServer, debugServer *http.Server, engine *runtime.Engine, wsServer *websocket.Server) {
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(ctx)
	}

	engine.Stop()
	if !wsServer.Wait(config.ShutdownTimeout) {
		log.Warn("Some connections did not close in time")
	}
	grpcServer.GracefulStop()
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	words, err := moderation.LoadWords(config.CensoredWordsFile)
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	return moderation.NewModerator(words, char, log)
}
