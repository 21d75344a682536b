package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/config"
	"github.com/adityaadpandey/sfu-coordinator/internal/logging"
	"github.com/adityaadpandey/sfu-coordinator/internal/server"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting sfu coordinator")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	srv.Start()

	fatalCh := make(chan error, 1)
	go func() {
		fatalCh <- srv.Watch(watchCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fatal := false
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-fatalCh:
		fatal = true
		logger.Error("worker died, coordinator is shutting down and will exit non-zero", zap.Error(err))
	}

	cancelWatch()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	logger.Info("sfu coordinator stopped")

	// spec.md §4.1: a worker death is fatal to the whole process. §7's
	// Kind-6 (Fatal) policy terminates the process; a clean signal-driven
	// shutdown exits 0.
	if fatal {
		os.Exit(1)
	}
}
