package main

import (
	"chat-hub/auth"
	"chat-hub/gateway"
	"chat-hub/internal"
	"chat-hub/moderation"
	"chat-hub/observability"
	"chat-hub/repositories"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a fatal error.
// Returning instead of exiting lets deferred cleanups (Badger above all) run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Persistence & services
	exec := repositories.NewExecutor(logger, config.PersistenceTimeout, config.PersistenceRetries, config.PersistenceBackoff)
	conversationRepository := repositories.NewConversationRepository(db, logger, exec)
	messageRepository := repositories.NewMessageRepository(db, logger, exec)
	userRepository := repositories.NewUserRepository(db, logger, exec)

	moderator, err := moderation.NewModerator(internal.SplitList(config.CensoredWords), charReplacement, logger)
	if err != nil {
		return exitConfig, fmt.Errorf("moderator error: %w", err)
	}
	conversationService := services.NewConversationService(logger, conversationRepository, messageRepository, userRepository)
	messageService := services.NewMessageService(logger, conversationService, messageRepository, userRepository, moderator, config.MaxContentLength)

	// 4. Gateway
	metrics := observability.NewMetrics()
	health := observability.NewHealth()
	registry := runtime.NewRegistry()
	channels := runtime.NewChannels(logger)
	gw := gateway.NewGateway(logger, auth.NewJWTVerifier(config.JWTSecret), registry, channels, conversationService, messageService, metrics)
	ws := gateway.NewWebSocketServer(ctx, logger, gw, metrics, gateway.WebSocketConfig{
		AllowedOrigins: internal.SplitList(config.AllowedOrigins),
		MaxMessageSize: config.MaxMessageSize,
		OutboxCapacity: config.OutboxCapacity,
		RateLimit:      config.RateLimit,
		RateBurst:      config.RateBurst,
	})

	mux := gateway.NewMux(ws, health, metrics)
	if config.EnableInspector {
		logger.Info("Badger inspector available", "path", "/debug/inspect")
		mux.Handle("/debug/inspect", internal.InspectHandler(db, internal.RecordMapper, func() map[string]any {
			stats := registry.Stats()
			return map[string]any{"Users": stats.Users, "Sessions": stats.Sessions, "Channels": channels.Count()}
		}))
	}

	// 5. Background workers
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(workers.NewPresenceReporter(logger, registry, channels, metrics, health, config.ReportInterval))
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 6. HTTP server
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-errChan:
		logger.Error("Server failed", "error", err)
		code = exitRuntime
	}

	// 8. Graceful shutdown: stop accepting, hang up sessions, then stop workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("HTTP shutdown incomplete", "error", shutdownErr)
	}
	if shutdownErr := ws.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Some connections did not close in time", "error", shutdownErr)
	}
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")
	return code, err
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}
	return options
}
