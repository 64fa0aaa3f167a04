package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"collab-lab/infrastructure/ws"
	"collab-lab/internal"
	"collab-lab/runtime"
	"collab-lab/runtime/workers"
	"collab-lab/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Collaboration core
	registry := runtime.NewRegistry(log, config.RoomGracePeriod)
	presence := runtime.NewPresenceStore(log, registry, config.HeartbeatTimeout, config.TypingIdleTimeout)
	ledger := runtime.NewLedger(registry)
	broadcaster := runtime.NewBroadcaster(log, registry)
	collabService := services.NewCollabService(log, registry, presence, ledger, broadcaster)

	// 3. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewSweepWorker(log, presence, config.SweepInterval),
		workers.NewTelemetryWorker(log, registry, config.TelemetryInterval),
	)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)
	defer sup.Stop()

	// 5. HTTP / websocket server
	server := ws.NewServer(log, collabService, ws.SessionConfig{
		Secret:           []byte(config.AuthSecret),
		BufferSize:       config.ConnectionBufferSize,
		JoinTimeout:      config.JoinTimeout,
		HeartbeatTimeout: config.HeartbeatTimeout,
	})
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Collaboration server listening", "address", address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
