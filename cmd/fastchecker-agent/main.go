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
	"github.com/vrsandeep/fastchecker/internal/core"
)

func main() {
	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()
	logr := app.Logger()

	// Setup the API server before the hub starts so panel commands are wired.
	server := api.NewServer(app)
	app.Start()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config().Agent.Port),
		Handler: server.Router(),
	}
	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logr.Infof("Agent listening on %s, relay %s", httpServer.Addr, app.Config().Agent.RelayURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("Shutting down agent...")

	// Create a context with a timeout to allow existing connections to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logr.Errorf("Server forced to shutdown: %v", err)
	}
	logr.Info("Agent exiting.")
}
