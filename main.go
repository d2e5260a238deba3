package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vrsandeep/fastchecker/internal/api"
	"github.com/vrsandeep/fastchecker/internal/config"
	"github.com/vrsandeep/fastchecker/internal/logger"
	"github.com/vrsandeep/fastchecker/internal/relay"
	"github.com/vrsandeep/fastchecker/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Fatal error loading configuration: %v", err)
	}
	logr, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Fatal error creating logger: %v", err)
	}
	defer logr.Sync()

	hub := websocket.NewHub()
	hub.SetLogger(logr.Named("hub"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var broker relay.Broker
	if addr := cfg.Relay.Redis.Addr; addr != "" {
		broker, err = relay.NewRedisBroker(ctx, relay.RedisOptions{
			Addr:     addr,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
			Channel:  cfg.Relay.Redis.Channel,
		}, hub, logr.Named("broker"))
		if err != nil {
			logr.Fatalf("Could not connect to Redis at %s: %v", addr, err)
		}
		logr.Infof("Relaying through Redis channel %s", cfg.Relay.Redis.Channel)
	} else {
		broker = relay.NewLocalBroker(hub)
	}
	defer broker.Close()

	server := api.NewRelayServer(hub, broker, logr)
	go hub.Run()
	defer hub.Stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logr.Infof("Relay server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("Shutting down relay...")

	// Create a context with a timeout to allow existing connections to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logr.Errorf("Server forced to shutdown: %v", err)
	}
	logr.Info("Relay exiting.")
}
