package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// aria2 container configuration constants.
const (
	aria2ContainerStartupTimeout = 2 * time.Minute
	aria2ContainerRPCPort        = "6800"
)

// Aria2Container holds references to a running aria2c container for integration tests.
type Aria2Container struct {
	Container testcontainers.Container
	Host      string
	Port      int
	Secret    string
}

// Aria2ContainerConfig configures the aria2 container.
type Aria2ContainerConfig struct {
	// Image is the base image; aria2 is installed with apk (default: "alpine:3.20")
	Image string
	// Secret is passed as --rpc-secret when non-empty
	Secret string
}

// DefaultAria2ContainerConfig returns the default configuration.
func DefaultAria2ContainerConfig() Aria2ContainerConfig {
	return Aria2ContainerConfig{
		Image: "alpine:3.20",
	}
}

// StartAria2Container starts aria2c with RPC enabled inside a container.
// The daemon is launched with the same flags the supervisor uses, except
// that it listens on all interfaces so the mapped port is reachable.
func StartAria2Container(ctx context.Context, cfg Aria2ContainerConfig) (*Aria2Container, error) {
	if cfg.Image == "" {
		cfg.Image = "alpine:3.20"
	}

	aria2Cmd := "aria2c --no-conf --enable-rpc --rpc-listen-all --rpc-listen-port=" + aria2ContainerRPCPort +
		" --rpc-allow-origin-all --quiet=true --dir=/downloads"
	if cfg.Secret != "" {
		aria2Cmd += " --rpc-secret=" + cfg.Secret
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{aria2ContainerRPCPort + "/tcp"},
		Cmd:          []string{"sh", "-c", "apk add --no-cache aria2 >/dev/null && mkdir -p /downloads && exec " + aria2Cmd},
		WaitingFor: wait.ForListeningPort(aria2ContainerRPCPort + "/tcp").
			WithStartupTimeout(aria2ContainerStartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start aria2 container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, aria2ContainerRPCPort)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	return &Aria2Container{
		Container: container,
		Host:      host,
		Port:      mappedPort.Int(),
		Secret:    cfg.Secret,
	}, nil
}

// RPCURL returns the WebSocket RPC address of the containerised daemon.
func (c *Aria2Container) RPCURL() string {
	return fmt.Sprintf("ws://%s:%d/jsonrpc", c.Host, c.Port)
}

// Cleanup stops the container.
func (c *Aria2Container) Cleanup(ctx context.Context) error {
	if c.Container == nil {
		return nil
	}
	if err := c.Container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
