package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ghermez/ariabridge/internal/server"
	"github.com/ghermez/ariabridge/internal/supervisor"
)

const defaultShutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Launch aria2c and serve the HTTP API",
		Long: `Launch aria2c with RPC enabled on --port and serve the HTTP API until
interrupted. With --rpc-url an already running daemon is used instead and
left running on exit.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *rootOptions) error {
	srv, err := server.New(opts.cfg, server.Options{
		RPCURL: opts.rpcURL,
		Logger: log.With().Str("component", "main").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Handle repeated signals during shutdown - force exit on second signal
	go func() {
		<-sigCh
		// Prepare for graceful shutdown (suppresses expected cancellation errors)
		srv.PrepareShutdown()
		cancel()

		// Wait for second signal
		<-sigCh
		log.Warn().Msg("received second signal, forcing exit")
		os.Exit(1)
	}()

	if err = srv.Run(ctx); err != nil {
		var launchErr *supervisor.LaunchError
		if errors.As(err, &launchErr) {
			log.Fatal().Err(launchErr.Err).Str("path", launchErr.Path).Msg("failed to launch aria2c")
		}
		return err
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
