package testing_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/internal/config"
	testutil "github.com/ghermez/ariabridge/internal/testing"
)

func loadYAML(t *testing.T, content string) (config.Config, error) {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0600))

	return config.Load(config.LoadOptions{ConfigFile: tmpFile})
}

func TestValidConfig(t *testing.T) {
	cfg := testutil.ValidConfig(t)

	// Write the config to a temp file and load it to verify it's valid
	loaded, err := loadYAML(t, testutil.ConfigToYAML(t, cfg))
	require.NoError(t, err, "ValidConfig should produce a valid config")

	assert.Equal(t, cfg, loaded)
}

func TestValidConfigMinimal(t *testing.T) {
	cfg := testutil.ValidConfigMinimal(t)

	loaded, err := loadYAML(t, testutil.ConfigToYAML(t, cfg))
	require.NoError(t, err, "ValidConfigMinimal should produce a valid config")

	// Unset fields pick up their defaults
	assert.Equal(t, cfg.Downloads.Path, loaded.Downloads.Path)
	assert.Equal(t, filepath.Join(cfg.Downloads.Path, ".ariabridge"), loaded.Downloads.WorkPath)
	assert.Equal(t, config.DefaultListen, loaded.Server.Listen)
}

func TestConfigToYAML(t *testing.T) {
	cfg := testutil.ValidConfig(t)
	cfg.Daemon.Secret = "s3cret"

	out := testutil.ConfigToYAML(t, cfg)

	assert.Contains(t, out, "daemon:")
	assert.Contains(t, out, "secret: s3cret")
	assert.Contains(t, out, "relocatebackend: copy")
}
