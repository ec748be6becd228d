// Package relocate moves completed downloads out of the daemon's working
// directory into their destination folder.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ghermez/ariabridge/internal/fileutil"
)

// Backend names a Mover implementation.
type Backend string

// Available backends.
const (
	BackendRclone Backend = "rclone"
	BackendCopy   Backend = "copy"
)

// ErrInsufficientSpace is returned when the destination reports less free
// space than the file needs. The file is left where it is.
var ErrInsufficientSpace = errors.New("insufficient disk space in destination")

// Mover moves one file to an exact destination path.
type Mover interface {
	// Move moves src to dst. The parent of dst may not exist yet.
	Move(ctx context.Context, src, dst string) error

	// Name returns the backend name.
	Name() string
}

// SpaceReporter is implemented by movers that can report free space.
type SpaceReporter interface {
	// FreeSpace returns the free bytes at dir; ok is false when unknown.
	FreeSpace(ctx context.Context, dir string) (free int64, ok bool)
}

// configurable is implemented by all movers to support shared options.
type configurable interface {
	setLogger(zerolog.Logger)
}

// Option is a functional option for configuring movers.
type Option func(configurable)

// WithLogger sets the logger for any mover.
func WithLogger(logger zerolog.Logger) Option {
	return func(c configurable) {
		c.setLogger(logger)
	}
}

// New returns the mover for backend.
func New(backend Backend, opts ...Option) (Mover, error) {
	switch backend {
	case BackendRclone:
		return NewRclone(opts...), nil
	case BackendCopy:
		return NewCopy(opts...), nil
	default:
		return nil, fmt.Errorf("unknown relocate backend %q", backend)
	}
}

// Relocate moves src into dstDir and returns the final path. The query
// string some URL-derived names carry is dropped, and an existing file of
// the same name is never overwritten: "name_1.ext", "name_2.ext" and so on
// are tried instead.
func Relocate(ctx context.Context, m Mover, src, dstDir string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}

	dst, err := freeName(dstDir, CleanName(filepath.Base(src)))
	if err != nil {
		return "", err
	}

	if sr, ok := m.(SpaceReporter); ok {
		if free, known := sr.FreeSpace(ctx, dstDir); known && free < info.Size() {
			return "", fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientSpace, info.Size(), free)
		}
	}

	if err = m.Move(ctx, src, dst); err != nil {
		return "", fmt.Errorf("%s move %s: %w", m.Name(), src, err)
	}
	return dst, nil
}

// CleanName strips a query string from a file name: "a.mp3?x=1" becomes
// "a.mp3".
func CleanName(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name
	}
	if q := strings.IndexByte(name[dot:], '?'); q >= 0 {
		return name[:dot+q]
	}
	return name
}

// freeName returns the first path under dir for name that is not taken.
func freeName(dir, name string) (string, error) {
	dst, err := fileutil.SafeJoin(dir, name)
	if err != nil {
		return "", err
	}
	if !exists(dst) {
		return dst, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyMover moves files with a rename, falling back to copy and delete.
type copyMover struct {
	logger zerolog.Logger
}

func (m *copyMover) setLogger(logger zerolog.Logger) {
	m.logger = logger
}

// NewCopy creates a mover backed by the local filesystem calls.
func NewCopy(opts ...Option) Mover {
	m := &copyMover{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *copyMover) Name() string {
	return string(BackendCopy)
}

func (m *copyMover) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fileutil.MoveFile(src, dst); err != nil {
		return err
	}
	m.logger.Debug().Str("src", src).Str("dst", dst).Msg("file moved")
	return nil
}
