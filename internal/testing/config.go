package testing

import (
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghermez/ariabridge/internal/config"
)

// ValidConfig returns a fully populated, valid config.Config struct.
// The returned config passes all validation checks and can be used as a starting
// point for tests that need to modify specific fields.
//
// Every path lives under a per-test temp directory. The API listens on a
// random loopback port and the rate limiter is off.
func ValidConfig(t *testing.T) config.Config {
	t.Helper()

	root := t.TempDir()
	downloads := filepath.Join(root, "downloads")

	return config.Config{
		Daemon: config.DaemonConfig{
			Port:            16800,
			SettleDelay:     10 * time.Millisecond,
			RPCTimeout:      5 * time.Second,
			ShutdownTimeout: 2 * time.Second,
		},
		Downloads: config.DownloadsConfig{
			Path:            downloads,
			WorkPath:        filepath.Join(downloads, ".ariabridge"),
			Subfolder:       true,
			Relocate:        true,
			RelocateBackend: "copy",
		},
		Server: config.ServerConfig{
			Listen:  "127.0.0.1:0",
			LockDir: filepath.Join(root, "locks"),
		},
	}
}

// ValidConfigMinimal returns a minimal valid config with only required fields.
func ValidConfigMinimal(t *testing.T) config.Config {
	t.Helper()

	return config.Config{
		Daemon: config.DaemonConfig{
			Port: config.DefaultRPCPort,
		},
		Downloads: config.DownloadsConfig{
			Path: filepath.Join(t.TempDir(), "downloads"),
		},
		Server: config.ServerConfig{
			Listen: config.DefaultListen,
		},
	}
}

// ConfigToYAML converts a config.Config struct to a YAML string.
// This is useful for tests that need to load config via the YAML parser.
// Note: yaml.Marshal lower-cases field names, which viper matches case-insensitively.
func ConfigToYAML(t *testing.T, cfg config.Config) string {
	t.Helper()

	//nolint:musttag // config.Config uses mapstructure tags, yaml.Marshal uses field names
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("failed to marshal config to YAML: %v", err)
	}

	return string(data)
}
