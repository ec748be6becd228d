//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/ghermez/ariabridge/internal/fileutil"
)

// defaultExecutable looks for aria2c.exe next to the working directory,
// where the installer places it.
func defaultExecutable() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	path := filepath.Join(cwd, "aria2c.exe")
	if !fileutil.IsFile(path) {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	return path, nil
}

// configureProcess keeps the daemon from opening a console window.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
