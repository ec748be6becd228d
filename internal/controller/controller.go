// Package controller implements the caller-facing task operations on top
// of the aria2 RPC gateway.
//
// Operations never return transport errors. Failures are logged with the
// operation name and gid, published as OperationFailed, and reported to the
// caller as a sentinel, a false flag or an empty list.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/category"
	"github.com/ghermez/ariabridge/internal/events"
	"github.com/ghermez/ariabridge/internal/relocate"
	"github.com/ghermez/ariabridge/internal/rpc"
	"github.com/ghermez/ariabridge/internal/speedlimit"
	"github.com/ghermez/ariabridge/internal/status"
)

// SentinelNoResponse is returned by Version when the daemon does not answer.
const SentinelNoResponse = "did not respond"

// OK is the acknowledgement returned by successful control operations.
const OK = "Ok"

// Gateway is the subset of *rpc.Gateway the controller uses.
type Gateway interface {
	GetVersion(ctx context.Context) (rpc.VersionInfo, error)
	TellActive(ctx context.Context, keys []string) ([]rpc.TaskStatus, error)
	TellStatus(ctx context.Context, gid string, keys []string) (rpc.TaskStatus, error)
	AddURI(ctx context.Context, uris []string, opts rpc.Options, headers ...string) (string, error)
	Pause(ctx context.Context, gid string) (string, error)
	Unpause(ctx context.Context, gid string) (string, error)
	Remove(ctx context.Context, gid string) (string, error)
	RemoveDownloadResult(ctx context.Context, gid string) error
	ChangeOption(ctx context.Context, gid string, opts rpc.Options) error
	Shutdown(ctx context.Context) error
}

// relocation holds where completed files go.
type relocation struct {
	mover     relocate.Mover
	basePath  string
	subfolder bool
}

// Controller runs task operations against the daemon.
type Controller struct {
	gateway  Gateway
	eventBus *events.Bus
	relocate *relocation
	workDir  string
	logger   zerolog.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithLogger sets the logger for the controller.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithEvents publishes operation outcomes on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Controller) {
		c.eventBus = bus
	}
}

// WithRelocation moves completed downloads into basePath (sorted into
// category folders when subfolder is set) the first time Status sees them.
func WithRelocation(mover relocate.Mover, basePath string, subfolder bool) Option {
	return func(c *Controller) {
		c.relocate = &relocation{mover: mover, basePath: basePath, subfolder: subfolder}
	}
}

// WithWorkDir sets the directory new downloads are written to when Add is
// not given one.
func WithWorkDir(dir string) Option {
	return func(c *Controller) {
		c.workDir = dir
	}
}

// New creates a Controller.
func New(gateway Gateway, opts ...Option) *Controller {
	c := &Controller{
		gateway: gateway,
		logger:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Version returns the daemon version, or SentinelNoResponse.
func (c *Controller) Version(ctx context.Context) string {
	v, err := c.gateway.GetVersion(ctx)
	if err != nil {
		c.fail("version", "", err)
		return SentinelNoResponse
	}
	c.logger.Info().Str("op", "version").Str("version", v.Version).Msg("aria2 answered")
	return v.Version
}

// ListActive returns the gids and normalized tasks of every active
// download. ok is false when the daemon could not be queried or a record
// could not be normalized.
func (c *Controller) ListActive(ctx context.Context) (gids []string, tasks []status.Task, ok bool) {
	raws, err := c.gateway.TellActive(ctx, rpc.ActiveKeys)
	if err != nil {
		c.fail("list", "", err)
		return nil, nil, false
	}

	gids = make([]string, 0, len(raws))
	tasks = make([]status.Task, 0, len(raws))
	for _, raw := range raws {
		task, normErr := status.Normalize(raw)
		if normErr != nil {
			c.fail("list", raw.GID, normErr)
			return nil, nil, false
		}
		gids = append(gids, raw.GID)
		tasks = append(tasks, task)
	}

	c.logger.Debug().Str("op", "list").Int("count", len(tasks)).Msg("listed active downloads")
	return gids, tasks, true
}

// ListActiveGIDs returns the gids of active downloads. The result is empty,
// never nil, when the daemon could not be queried.
func (c *Controller) ListActiveGIDs(ctx context.Context) []string {
	raws, err := c.gateway.TellActive(ctx, []string{"gid"})
	if err != nil {
		c.fail("gids", "", err)
		return []string{}
	}

	gids := make([]string, 0, len(raws))
	for _, raw := range raws {
		gids = append(gids, raw.GID)
	}
	return gids
}

// FindDestinationFolder returns the folder a completed file belongs in.
func (c *Controller) FindDestinationFolder(fileName, basePath string, subfolder bool) string {
	return category.Categorize(fileName, basePath, subfolder)
}

// Shutdown asks the daemon to exit.
func (c *Controller) Shutdown(ctx context.Context) bool {
	if err := c.gateway.Shutdown(ctx); err != nil {
		c.fail("shutdown", "", err)
		return false
	}
	c.logger.Info().Str("op", "shutdown").Msg("aria2 shutdown requested")
	c.publish(events.Event{Type: events.DaemonShutdown})
	return true
}

// Pause pauses a download.
func (c *Controller) Pause(ctx context.Context, gid string) (string, bool) {
	return c.control(ctx, "pause", gid, c.gateway.Pause, events.TaskPaused)
}

// Resume resumes a paused download.
func (c *Controller) Resume(ctx context.Context, gid string) (string, bool) {
	return c.control(ctx, "resume", gid, c.gateway.Unpause, events.TaskResumed)
}

// Remove stops a download and drops its result from the daemon.
func (c *Controller) Remove(ctx context.Context, gid string) (string, bool) {
	ack, ok := c.control(ctx, "remove", gid, c.gateway.Remove, events.TaskRemoved)
	if !ok {
		return ack, ok
	}
	if err := c.gateway.RemoveDownloadResult(ctx, gid); err != nil {
		// The task is gone either way; aria2 may not have finalised it yet.
		c.logger.Debug().Err(err).Str("op", "remove").Str("gid", gid).Msg("download result not removed")
	}
	return ack, ok
}

func (c *Controller) control(
	ctx context.Context,
	op, gid string,
	call func(context.Context, string) (string, error),
	success events.Type,
) (string, bool) {
	if _, err := call(ctx, gid); err != nil {
		c.fail(op, gid, err)
		return "", false
	}
	c.logger.Info().Str("op", op).Str("gid", gid).Msg("download " + op + " ok")
	c.publish(events.Event{Type: success, GID: gid})
	return OK, true
}

// SetSpeedLimit applies a bandwidth limit such as "5M" or "100K" to a
// download. The outcome is only logged.
func (c *Controller) SetSpeedLimit(ctx context.Context, gid, limit string) {
	opts, err := speedlimit.Option(limit)
	if err != nil {
		c.fail("limit", gid, err)
		return
	}

	if err = c.gateway.ChangeOption(ctx, gid, opts); err != nil {
		c.fail("limit", gid, err)
		return
	}

	applied := opts[maxDownloadLimit]
	c.logger.Info().Str("op", "limit").Str("gid", gid).Str("limit", applied).Msg("speed limit changed")
	c.publish(events.Event{
		Type: events.SpeedLimitChanged,
		GID:  gid,
		Data: map[string]any{"limit": applied},
	})
}

// Add starts a download of url and returns its gid.
func (c *Controller) Add(ctx context.Context, url string, opts AddOptions) (string, bool) {
	if opts.Dir == "" {
		opts.Dir = c.workDir
	}

	rpcOpts, headers, err := opts.rpcOptions()
	if err != nil {
		c.fail("add", "", err)
		return "", false
	}

	gid, err := c.gateway.AddURI(ctx, []string{url}, rpcOpts, headers...)
	if err != nil {
		c.fail("add", "", err)
		return "", false
	}

	c.logger.Info().Str("op", "add").Str("gid", gid).Str("url", url).Msg("download added")
	c.publish(events.Event{
		Type: events.TaskAdded,
		GID:  gid,
		Data: map[string]any{"url": url, "dir": opts.Dir},
	})
	return gid, true
}

// Status returns the normalized state of one download.
//
// A failed download carries the daemon's error message and is dropped from
// the daemon. A completed one is relocated, when relocation is configured,
// and then dropped so a later poll does not move it again.
func (c *Controller) Status(ctx context.Context, gid string) (status.Task, bool) {
	raw, err := c.gateway.TellStatus(ctx, gid, rpc.StatusKeys)
	if err != nil {
		c.fail("status", gid, err)
		return status.Task{}, false
	}

	m, err := status.Measure(raw)
	if err != nil {
		c.fail("status", gid, err)
		return status.Task{}, false
	}
	task := m.Task()

	switch m.Label {
	case status.Error:
		task.Error = raw.ErrorMessage
		c.logger.Error().
			Str("op", "status").
			Str("gid", gid).
			Str("error_code", raw.ErrorCode).
			Str("error", raw.ErrorMessage).
			Msg("download failed")
		c.publish(events.Event{
			Type: events.TaskFailed,
			GID:  gid,
			Data: map[string]any{"error": raw.ErrorMessage, "error_code": raw.ErrorCode},
		})
		c.dropResult(ctx, gid)

	case status.Complete:
		// Without relocation the record stays in the daemon and every poll
		// would report the completion again.
		if c.relocate != nil {
			c.publish(events.Event{
				Type: events.TaskCompleted,
				GID:  gid,
				Data: map[string]any{"file_name": m.FileName},
			})
			c.relocateCompleted(ctx, gid, raw.Files[0].Path, m.FileName)
		}
	}

	return task, true
}

// relocateCompleted moves a finished file to its destination folder. A
// failed move leaves the file and the daemon's record in place so the next
// poll retries.
func (c *Controller) relocateCompleted(ctx context.Context, gid, path, fileName string) {
	if path == "" || fileName == "" {
		return
	}

	dstDir := category.Categorize(fileName, c.relocate.basePath, c.relocate.subfolder)
	dst, err := relocate.Relocate(ctx, c.relocate.mover, path, dstDir)
	if err != nil {
		c.fail("relocate", gid, err)
		return
	}

	c.logger.Info().
		Str("op", "relocate").
		Str("gid", gid).
		Str("destination", dst).
		Msg("download moved")
	c.publish(events.Event{
		Type: events.TaskRelocated,
		GID:  gid,
		Data: map[string]any{"file_name": fileName, "destination": dst, "backend": c.relocate.mover.Name()},
	})
	c.dropResult(ctx, gid)
}

func (c *Controller) dropResult(ctx context.Context, gid string) {
	if err := c.gateway.RemoveDownloadResult(ctx, gid); err != nil {
		c.logger.Warn().Err(err).Str("op", "status").Str("gid", gid).Msg("failed to remove download result")
	}
}

// fail logs and publishes a failed operation.
func (c *Controller) fail(op, gid string, err error) {
	c.logger.Error().
		Err(err).
		Str("op", op).
		Str("gid", gid).
		Str("kind", errorKind(err)).
		Msg("operation failed")

	c.publish(events.Event{
		Type: events.OperationFailed,
		GID:  gid,
		Data: map[string]any{"op": op, "error": err.Error(), "kind": errorKind(err)},
	})
}

func (c *Controller) publish(ev events.Event) {
	if c.eventBus != nil {
		c.eventBus.Publish(ev)
	}
}

// errorKind classifies err for logs.
func errorKind(err error) string {
	var fe *status.FormatError
	switch {
	case rpc.IsConnectivity(err):
		return "connectivity"
	case rpc.IsProtocol(err):
		return "protocol"
	case errors.As(err, &fe):
		return "format"
	case errors.Is(err, relocate.ErrInsufficientSpace):
		return "disk"
	default:
		return fmt.Sprintf("%T", err)
	}
}
