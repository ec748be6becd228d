//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
)

func defaultExecutable() (string, error) {
	path, err := exec.LookPath("aria2c")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecutableNotFound, err)
	}
	return path, nil
}

func configureProcess(*exec.Cmd) {}
