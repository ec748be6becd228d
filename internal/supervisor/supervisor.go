// Package supervisor launches the aria2c daemon and confirms it answers RPC.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/fileutil"
	"github.com/ghermez/ariabridge/internal/rpc"
)

// DefaultSettleDelay is how long the daemon is given to open its RPC port
// before the version probe.
const DefaultSettleDelay = 2 * time.Second

// ErrExecutableNotFound is returned when no aria2c executable can be found.
// Nothing is launched in that case.
var ErrExecutableNotFound = errors.New("aria2c executable not found")

// ErrAlreadyRunning is returned by Start while a previously started child
// is still alive.
var ErrAlreadyRunning = errors.New("aria2c is already running")

// LaunchError reports that the executable was found but could not be
// spawned. Callers are expected to treat it as fatal.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// VersionProber asks the daemon for its version. It returns a sentinel
// string rather than an error when the daemon does not answer.
type VersionProber interface {
	Version(ctx context.Context) string
}

// Supervisor owns the aria2c child process.
type Supervisor struct {
	endpoint    *rpc.Endpoint
	prober      VersionProber
	settleDelay time.Duration
	secret      string
	logger      zerolog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error // exit error of the last child, set before done is closed
}

// Option is a functional option for configuring the Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger for the supervisor.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.settleDelay = d
	}
}

// WithSecret launches the daemon with --rpc-secret.
func WithSecret(secret string) Option {
	return func(s *Supervisor) {
		s.secret = secret
	}
}

// New creates a Supervisor that publishes the daemon address to endpoint
// and confirms readiness through prober.
func New(endpoint *rpc.Endpoint, prober VersionProber, opts ...Option) *Supervisor {
	s := &Supervisor{
		endpoint:    endpoint,
		prober:      prober,
		settleDelay: DefaultSettleDelay,
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Args returns the daemon command line flags.
func Args(port int, secret string) []string {
	args := []string{
		"--no-conf",
		"--enable-rpc",
		"--rpc-listen-port=" + strconv.Itoa(port),
		"--rpc-allow-origin-all",
		"--quiet=true",
	}
	if secret != "" {
		args = append(args, "--rpc-secret="+secret)
	}
	return args
}

// ResolveExecutable returns override when it names a regular file, and
// the platform default location otherwise.
func ResolveExecutable(override string) (string, error) {
	if override != "" && fileutil.IsFile(override) {
		return override, nil
	}
	return defaultExecutable()
}

// Start points the endpoint at port, launches aria2c, waits the settle
// delay and returns the result of a single version probe.
//
// A missing executable yields ErrExecutableNotFound and a failed spawn a
// *LaunchError. A daemon that never answers is not an error: the probe's
// sentinel is returned instead.
func (s *Supervisor) Start(ctx context.Context, port int, override string) (string, error) {
	s.mu.Lock()
	if s.cmd != nil && !s.exited() {
		s.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	s.mu.Unlock()

	s.endpoint.Set(rpc.LoopbackURL(port))

	if override != "" && !fileutil.IsFile(override) {
		s.logger.Warn().Str("path", override).Msg("configured aria2c path is not a file, using default location")
	}

	path, err := ResolveExecutable(override)
	if err != nil {
		s.logger.Error().Err(err).Msg("aria2c not found")
		return "", err
	}

	cmd := exec.Command(path, Args(port, s.secret)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	configureProcess(cmd)

	if err = cmd.Start(); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to launch aria2c")
		return "", &LaunchError{Path: path, Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.err = nil
	s.mu.Unlock()

	go s.reap(cmd, done)

	s.logger.Info().
		Str("path", path).
		Int("pid", cmd.Process.Pid).
		Int("port", port).
		Msg("aria2c launched")

	timer := time.NewTimer(s.settleDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		s.logger.Warn().Int("pid", cmd.Process.Pid).Msg("cancelled before aria2c settled, stopping it")
		if err = s.Kill(); err != nil {
			s.logger.Error().Err(err).Msg("failed to kill aria2c")
		} else {
			<-done
		}
		return "", ctx.Err()
	}

	version := s.prober.Version(ctx)
	s.logger.Info().Str("version", version).Msg("aria2c version probe")
	return version, nil
}

// reap waits for the child and records its exit.
func (s *Supervisor) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(done)

	if err != nil {
		s.logger.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("aria2c exited")
		return
	}
	s.logger.Info().Int("pid", cmd.Process.Pid).Msg("aria2c exited")
}

// exited reports whether the current child has exited. s.mu must be held.
func (s *Supervisor) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Running reports whether a launched child is still alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil && !s.exited()
}

// Wait blocks until the child exits or ctx ends. It returns the child's
// exit error, or nil when nothing was launched.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill force-stops the child. Killing an exited or never started child is
// a no-op.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.exited() {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill aria2c: %w", err)
	}
	s.logger.Warn().Int("pid", s.cmd.Process.Pid).Msg("aria2c killed")
	return nil
}
