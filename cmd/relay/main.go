// Command relay runs the development chat relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatlink/internal/app"
	"chatlink/internal/config"
	"chatlink/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration, starts the relay and blocks until SIGINT/SIGTERM
// or a server failure.
func run(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CHATLINK_CONFIG_FILE"), "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// STEP 1: configuration with precedence env > file > defaults
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// STEP 2: build and start
	relay, err := app.NewRelay(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	// STEP 3: wait for a signal or a server failure
	var runErr error
	select {
	case err, ok := <-relay.Errors():
		if ok {
			runErr = fmt.Errorf("relay error: %w", err)
		}
	case sig := <-signalCh:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := relay.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown error: %w", err)
	}
	return runErr
}
