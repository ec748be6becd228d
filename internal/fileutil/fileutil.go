// Package fileutil provides common file operation utilities.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies a file from src to dst, creating parent directories as
// needed. A partially written dst is removed when the copy fails.
func CopyFile(src, dst string) (retErr error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := srcFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	if err = os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
		if retErr != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

// MoveFile moves src to dst, creating parent directories as needed. A plain
// rename is tried first; across filesystems the file is copied and the
// source removed.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// IsFile reports whether path names an existing regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// SafeJoin joins a relative path onto base and rejects results that would
// land outside base. Names reported by the daemon pass through here before
// they are used as move targets.
func SafeJoin(base, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", errors.New("path must be relative")
	}

	joined := filepath.Join(base, path)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", path, base)
	}
	return joined, nil
}
