//nolint:testpackage // tests build the unexported command tree
package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ghermez/ariabridge/apitypes"
	"github.com/ghermez/ariabridge/internal/controller"
	testutil "github.com/ghermez/ariabridge/internal/testing"
)

const testGID = "2089b05ecca3d829"

type cliEnv struct {
	aria2      *testutil.Aria2Server
	configPath string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()

	aria2 := testutil.NewAria2Server()
	t.Cleanup(aria2.Close)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := testutil.ConfigToYAML(t, testutil.ValidConfig(t))
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0600))

	return &cliEnv{aria2: aria2, configPath: configPath}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config", e.configPath,
		"--log-level", "error",
		"--log-pretty=false",
		"--rpc-url", e.aria2.RPCURL(),
	}, args...))

	err := root.Execute()
	return out.String(), err
}

func (e *cliEnv) addActive(gid string) {
	e.aria2.AddTask(&testutil.FakeTask{
		GID:             gid,
		Status:          "active",
		Connections:     3,
		DownloadSpeed:   1024,
		TotalLength:     4096,
		CompletedLength: 2048,
		Files: []testutil.FakeFile{{
			Path: "/work/ubuntu.iso",
			URIs: []string{"https://example.com/ubuntu.iso"},
		}},
	})
}

func TestVersionCommand(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeVersion+"\n", out)

	env.aria2.Close()
	out, err = env.run(t, "version")
	require.ErrorIs(t, err, errNoResponse)
	assert.Equal(t, controller.SentinelNoResponse+"\n", out)
}

func TestRootVersionFlag(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run(t, "-V")
	require.NoError(t, err)
	assert.Contains(t, out, "ariabridge "+Version)
	assert.Contains(t, out, "commit:")
}

func TestListCommand(t *testing.T) {
	env := setupCLI(t)
	env.addActive(testGID)

	t.Run("table", func(t *testing.T) {
		out, err := env.run(t, "list")
		require.NoError(t, err)
		assert.Contains(t, out, testGID)
		assert.Contains(t, out, "ubuntu.iso")
		assert.Contains(t, out, "50%")
		assert.Contains(t, out, "1.0 KiB/s")
	})

	t.Run("json", func(t *testing.T) {
		out, err := env.run(t, "list", "-o", "json")
		require.NoError(t, err)

		var list apitypes.DownloadList
		require.NoError(t, json.Unmarshal([]byte(out), &list))
		assert.Equal(t, []string{testGID}, list.GIDs)
		require.Len(t, list.Downloads, 1)
		assert.Equal(t, "2s", *list.Downloads[0].EstimateTimeLeft)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := env.run(t, "list", "-o", "yaml")
		require.NoError(t, err)

		var list apitypes.DownloadList
		require.NoError(t, yaml.Unmarshal([]byte(out), &list))
		assert.Equal(t, []string{testGID}, list.GIDs)
		assert.Contains(t, out, "estimate_time_left: 2s")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := env.run(t, "list", "-o", "xml")
		require.Error(t, err)
	})
}

func TestListCommandDaemonDown(t *testing.T) {
	env := setupCLI(t)
	env.aria2.Close()

	_, err := env.run(t, "list")
	require.ErrorIs(t, err, errUnavailable)
}

func TestGIDsCommand(t *testing.T) {
	env := setupCLI(t)
	env.addActive(testGID)
	env.addActive("00000000000000b2")

	out, err := env.run(t, "gids")
	require.NoError(t, err)
	assert.Equal(t, testGID+"\n00000000000000b2\n", out)
}

func TestStatusCommand(t *testing.T) {
	env := setupCLI(t)
	env.addActive(testGID)

	out, err := env.run(t, "status", testGID, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"gid": "`+testGID+`"`)
	assert.Contains(t, out, `"status": "downloading"`)

	_, err = env.run(t, "status", "ffffffffffffffff")
	require.ErrorIs(t, err, errUnavailable)

	_, err = env.run(t, "status")
	require.Error(t, err)
}

func TestAddCommand(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run(t, "add", "https://example.com/file.zip",
		"--out", "renamed.zip",
		"-H", "X-One: 1",
		"--header", "X-Two: 2",
		"--cookies", "a=b",
		"--connections", "4",
		"--limit", "512K",
	)
	require.NoError(t, err)

	gid := strings.TrimSpace(out)
	task := env.aria2.GetTask(gid)
	require.NotNil(t, task)
	assert.Equal(t, "renamed.zip", task.Options["out"])
	assert.Equal(t, "4", task.Options["max-connection-per-server"])
	assert.Equal(t, "512K", task.Options["max-download-limit"])
	assert.NotEmpty(t, task.Options["dir"])
	assert.Equal(t, []string{"Cookie: a=b", "X-One: 1", "X-Two: 2"}, task.Headers)

	_, err = env.run(t, "add", "https://example.com/file.zip", "--limit", "lots")
	require.Error(t, err)
	assert.Len(t, env.aria2.CallsFor("aria2.addUri"), 1)
}

func TestControlCommands(t *testing.T) {
	env := setupCLI(t)
	env.addActive(testGID)

	out, err := env.run(t, "pause", testGID)
	require.NoError(t, err)
	assert.Equal(t, "Ok\n", out)
	assert.Equal(t, "paused", env.aria2.GetTask(testGID).Status)

	out, err = env.run(t, "resume", testGID)
	require.NoError(t, err)
	assert.Equal(t, "Ok\n", out)

	out, err = env.run(t, "remove", testGID)
	require.NoError(t, err)
	assert.Equal(t, "Ok\n", out)
	assert.Nil(t, env.aria2.GetTask(testGID))

	_, err = env.run(t, "pause", testGID)
	require.ErrorIs(t, err, errUnavailable)
}

func TestLimitCommand(t *testing.T) {
	env := setupCLI(t)
	env.addActive(testGID)

	out, err := env.run(t, "limit", testGID, "2M")
	require.NoError(t, err)
	assert.Equal(t, "2048K\n", out)
	assert.Equal(t, "2048K", env.aria2.GetTask(testGID).Options["max-download-limit"])

	_, err = env.run(t, "limit", testGID, "fast")
	require.Error(t, err)

	_, err = env.run(t, "limit", "ffffffffffffffff", "1M")
	require.ErrorIs(t, err, errUnavailable)

	assert.Len(t, env.aria2.CallsFor("aria2.changeOption"), 2)
}

func TestShutdownCommand(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run(t, "shutdown")
	require.NoError(t, err)
	assert.Equal(t, "Ok\n", out)
	assert.Equal(t, 1, env.aria2.Shutdowns())
}

func TestDestinationCommand(t *testing.T) {
	env := setupCLI(t)

	out, err := env.run(t, "destination", "movie.MKV", "--base", "/dl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/dl", "Videos")+"\n", out)

	out, err = env.run(t, "destination", "movie.MKV", "--base", "/dl", "--subfolder=false")
	require.NoError(t, err)
	assert.Equal(t, "/dl\n", out)

	// Defaults come from the config file.
	out, err = env.run(t, "destination", "song.flac")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), filepath.Join("downloads", "Audios")), out)
}

func TestPortFlagOverridesConfig(t *testing.T) {
	env := setupCLI(t)

	opts := &rootOptions{cfgFile: env.configPath, logLevel: "error", port: 7001}
	require.NoError(t, opts.load())

	assert.Equal(t, 7001, opts.cfg.Daemon.Port)
	assert.Equal(t, "ws://127.0.0.1:7001/jsonrpc", opts.rpcAddr())

	opts.rpcURL = env.aria2.RPCURL()
	assert.Equal(t, env.aria2.RPCURL(), opts.rpcAddr())
}
