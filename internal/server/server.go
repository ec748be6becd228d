// Package server provides the main application server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/api"
	"github.com/ghermez/ariabridge/internal/config"
	"github.com/ghermez/ariabridge/internal/controller"
	"github.com/ghermez/ariabridge/internal/events"
	"github.com/ghermez/ariabridge/internal/relocate"
	"github.com/ghermez/ariabridge/internal/rpc"
	"github.com/ghermez/ariabridge/internal/supervisor"
	"github.com/ghermez/ariabridge/internal/timeline"
)

// ErrAlreadyRunning is returned by Run when another instance holds the
// lock for the same RPC port.
var ErrAlreadyRunning = errors.New("another ariabridge instance is running for this port")

// Options holds additional server options not in config.
type Options struct {
	// RPCURL attaches to an already running daemon instead of launching
	// aria2c. Shutdown then leaves the daemon alone.
	RPCURL string

	// Logger
	Logger zerolog.Logger
}

// Server is the main application server.
type Server struct {
	cfg          config.Config
	opts         Options
	bus          *events.Bus
	recorder     timeline.Recorder
	timelineCtrl *timeline.Controller
	endpoint     *rpc.Endpoint
	controller   *controller.Controller
	supervisor   *supervisor.Supervisor
	mover        relocate.Mover
	apiServer    *api.Server
	lock         *flock.Flock
	logger       zerolog.Logger
}

// New creates a new server with the given configuration.
//
//nolint:funlen // initialization function needs to set up multiple components
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	bus := events.New(events.WithLogger(logger.With().Str("component", "events").Logger()))

	recorder := timeline.NewRecorder(
		timeline.WithLogger(logger.With().Str("component", "timeline").Logger()),
	)
	timelineCtrl := timeline.NewController(bus, recorder,
		timeline.WithControllerLogger(logger.With().Str("component", "timeline").Logger()),
	)

	endpoint := rpc.NewEndpoint(opts.RPCURL)
	gateway := rpc.NewGateway(
		endpoint,
		rpc.WithLogger(logger.With().Str("component", "rpc").Logger()),
		rpc.WithSecret(cfg.Daemon.Secret),
		rpc.WithTimeout(cfg.Daemon.RPCTimeout),
	)

	ctrlOpts := []controller.Option{
		controller.WithLogger(logger.With().Str("component", "controller").Logger()),
		controller.WithEvents(bus),
		controller.WithWorkDir(cfg.Downloads.WorkPath),
	}

	var mover relocate.Mover
	if cfg.Downloads.Relocate {
		var err error
		mover, err = relocate.New(
			relocate.Backend(cfg.Downloads.RelocateBackend),
			relocate.WithLogger(logger.With().Str("component", "relocate").Logger()),
		)
		if err != nil {
			return nil, err
		}
		ctrlOpts = append(ctrlOpts, controller.WithRelocation(mover, cfg.Downloads.Path, cfg.Downloads.Subfolder))

		logger.Info().
			Str("backend", mover.Name()).
			Str("destination", cfg.Downloads.Path).
			Bool("subfolder", cfg.Downloads.Subfolder).
			Msg("relocation configured")
	}

	ctrl := controller.New(gateway, ctrlOpts...)

	sup := supervisor.New(
		endpoint,
		ctrl,
		supervisor.WithLogger(logger.With().Str("component", "supervisor").Logger()),
		supervisor.WithSettleDelay(cfg.Daemon.SettleDelay),
		supervisor.WithSecret(cfg.Daemon.Secret),
	)

	apiServer := api.New(
		ctrl,
		api.WithLogger(logger.With().Str("component", "api").Logger()),
		api.WithTimeline(recorder),
		api.WithDestination(cfg.Downloads.Path, cfg.Downloads.Subfolder),
		api.WithRateLimit(cfg.Server.RateLimit),
	)

	return &Server{
		cfg:          cfg,
		opts:         opts,
		bus:          bus,
		recorder:     recorder,
		timelineCtrl: timelineCtrl,
		endpoint:     endpoint,
		controller:   ctrl,
		supervisor:   sup,
		mover:        mover,
		apiServer:    apiServer,
		logger:       logger,
	}, nil
}

// LockPath returns the single-instance lock file for the configured port.
func (s *Server) LockPath() string {
	return filepath.Join(s.cfg.Server.LockDir, "ariabridge-"+strconv.Itoa(s.cfg.Daemon.Port)+".lock")
}

// Timeline returns the recorder of recent operations.
func (s *Server) Timeline() timeline.Recorder {
	return s.recorder
}

// Handler returns the HTTP API handler.
func (s *Server) Handler() http.Handler {
	return s.apiServer
}

// Run starts the daemon and the API and blocks until the context is
// cancelled. A *supervisor.LaunchError or supervisor.ErrExecutableNotFound
// is returned as is. When Run fails it has already stopped the daemon and
// released the lock.
func (s *Server) Run(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	s.logger.Info().
		Str("listen", s.cfg.Server.Listen).
		Int("rpc_port", s.cfg.Daemon.Port).
		Str("downloads_path", s.cfg.Downloads.Path).
		Str("work_path", s.cfg.Downloads.WorkPath).
		Msg("starting ariabridge")

	if s.cfg.Downloads.WorkPath != "" {
		if err := os.MkdirAll(s.cfg.Downloads.WorkPath, 0750); err != nil {
			s.releaseLock()
			return fmt.Errorf("failed to create work path: %w", err)
		}
	}

	// Record from the start so the daemon start shows up in the timeline.
	s.timelineCtrl.Start(ctx)

	version, err := s.startDaemon(ctx)
	if err != nil {
		s.abort(ctx)
		return err
	}
	if version == controller.SentinelNoResponse {
		s.logger.Warn().Str("rpc", s.endpoint.Addr()).Msg("aria2 did not answer the version probe, serving anyway")
	}

	s.bus.Publish(events.Event{
		Type: events.DaemonStarted,
		Data: map[string]any{"version": version, "port": s.cfg.Daemon.Port, "rpc": s.endpoint.Addr()},
	})

	errCh := make(chan error, 1)
	go func() {
		if startErr := s.apiServer.Start(s.cfg.Server.Listen); startErr != nil &&
			!errors.Is(startErr, http.ErrServerClosed) {
			errCh <- startErr
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err = <-errCh:
		s.logger.Error().Err(err).Msg("api server failed")
		s.abort(ctx)
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// abort undoes a partial Run: a launched daemon is stopped and the lock
// released, so a failed start never leaves aria2c holding the RPC port.
func (s *Server) abort(ctx context.Context) {
	if !s.attached() && s.supervisor.Running() {
		s.stopDaemon(context.WithoutCancel(ctx))
	}
	s.timelineCtrl.Stop()
	s.releaseLock()
}

func (s *Server) startDaemon(ctx context.Context) (string, error) {
	if s.attached() {
		s.logger.Info().Str("rpc", s.opts.RPCURL).Msg("attaching to running aria2")
		return s.controller.Version(ctx), nil
	}
	return s.supervisor.Start(ctx, s.cfg.Daemon.Port, s.cfg.Daemon.Path)
}

func (s *Server) attached() bool {
	return s.opts.RPCURL != ""
}

func (s *Server) acquireLock() error {
	if err := os.MkdirAll(s.cfg.Server.LockDir, 0750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(s.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	s.lock = lock
	return nil
}

func (s *Server) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.lock.Path()).Msg("failed to release lock")
	}
	s.lock = nil
}

// PrepareShutdown prepares for graceful shutdown by suppressing expected errors.
// Call this before cancelling the main context.
func (s *Server) PrepareShutdown() {
	if p, ok := s.mover.(interface{ PrepareShutdown() }); ok {
		p.PrepareShutdown()
	}
}

// Shutdown stops the API, asks a launched daemon to exit, and kills it if
// it is still running after the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down...")

	if err := s.apiServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server shutdown error")
	}

	if !s.attached() && s.supervisor.Running() {
		s.stopDaemon(ctx)
	}

	s.timelineCtrl.Stop()
	s.releaseLock()
	s.bus.Close()

	s.logger.Info().Msg("shutdown complete")
	return nil
}

func (s *Server) stopDaemon(ctx context.Context) {
	s.controller.Shutdown(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.Daemon.ShutdownTimeout)
	defer cancel()

	err := s.supervisor.Wait(waitCtx)
	if err == nil {
		return
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Msg("aria2c exited with error")
		return
	}

	s.logger.Warn().Dur("timeout", s.cfg.Daemon.ShutdownTimeout).Msg("aria2c did not exit, killing it")
	if err = s.supervisor.Kill(); err != nil {
		s.logger.Error().Err(err).Msg("failed to kill aria2c")
		return
	}
	_ = s.supervisor.Wait(context.WithoutCancel(ctx))
}
