package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitchlab/coachlink/internal/config"
)

// Run builds the daemon from cfg and serves until the context ends or a
// shutdown signal arrives.
func Run(ctx context.Context, cfg config.Config) error {
	result, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			log.Printf("app: cleanup: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    result.Config.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("app: control plane listening on %s", result.Config.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if result.Config.CaptureMode == "scripted" {
		go func() {
			if err := runScriptedCapture(runCtx, result.Client, result.Config); err != nil {
				log.Printf("app: scripted capture: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Printf("app: shutdown signal received")
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), result.Config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("app: graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("app: shutdown complete")
	return nil
}
