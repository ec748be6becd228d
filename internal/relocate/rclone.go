package relocate

import (
	"context"
	"fmt"
	"io"
	"log" //nolint:depguard // needed to suppress rclone's internal error logging during shutdown
	"os"
	"path/filepath"
	"sync"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/operations"
	"github.com/rs/zerolog"

	// Local filesystem backend.
	_ "github.com/rclone/rclone/backend/local"
)

// rcloneGlobalsOnce ensures global rclone configuration is only set once.
//
//nolint:gochecknoglobals // sync primitives for thread-safe rclone initialization
var rcloneGlobalsOnce sync.Once

// rcloneNewFsMu serializes fs.NewFs calls to work around race conditions in
// rclone's config loading (github.com/rclone/rclone/issues/8666).
//
//nolint:gochecknoglobals // sync primitives for thread-safe rclone initialization
var rcloneNewFsMu sync.Mutex

// rcloneMover moves files through rclone's local backend, which handles
// cross-device moves and verifies the copy before deleting the source.
type rcloneMover struct {
	logger zerolog.Logger
}

func (m *rcloneMover) setLogger(logger zerolog.Logger) {
	m.logger = logger
}

// NewRclone creates a mover backed by rclone.
func NewRclone(opts ...Option) Mover {
	m := &rcloneMover{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}

	rcloneGlobalsOnce.Do(func() {
		ci := fs.GetConfig(context.Background())
		ci.Transfers = 1
		ci.Checkers = 1
		ci.LogLevel = fs.LogLevelError
	})

	return m
}

func (m *rcloneMover) Name() string {
	return string(BackendRclone)
}

func (m *rcloneMover) Move(ctx context.Context, src, dst string) error {
	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	fsrc, err := newLocalFs(ctx, filepath.Dir(src))
	if err != nil {
		return err
	}
	fdst, err := newLocalFs(ctx, dstDir)
	if err != nil {
		return err
	}

	if err = operations.MoveFile(ctx, fdst, fsrc, filepath.Base(dst), filepath.Base(src)); err != nil {
		return fmt.Errorf("rclone move failed: %w", err)
	}

	m.logger.Debug().Str("src", src).Str("dst", dst).Msg("file moved")
	return nil
}

// FreeSpace reports free space using the local backend's About feature.
func (m *rcloneMover) FreeSpace(ctx context.Context, dir string) (int64, bool) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, false
	}
	f, err := newLocalFs(ctx, dir)
	if err != nil {
		return 0, false
	}

	about := f.Features().About
	if about == nil {
		return 0, false
	}
	usage, err := about(ctx)
	if err != nil || usage == nil || usage.Free == nil {
		m.logger.Debug().Err(err).Str("dir", dir).Msg("free space unknown")
		return 0, false
	}
	return *usage.Free, true
}

// PrepareShutdown suppresses rclone error logging during shutdown.
func (m *rcloneMover) PrepareShutdown() {
	log.SetOutput(io.Discard)

	ci := fs.GetConfig(context.Background())
	ci.LogLevel = fs.LogLevelEmergency
}

func newLocalFs(ctx context.Context, dir string) (fs.Fs, error) {
	rcloneNewFsMu.Lock()
	f, err := fs.NewFs(ctx, dir)
	rcloneNewFsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create local filesystem for %s: %w", dir, err)
	}
	return f, nil
}
