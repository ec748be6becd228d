package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/internal/rpc"
	testutil "github.com/ghermez/ariabridge/internal/testing"
)

func newGateway(t *testing.T, opts ...rpc.Option) (*rpc.Gateway, *testutil.Aria2Server) {
	t.Helper()

	server := testutil.NewAria2Server()
	t.Cleanup(server.Close)

	return rpc.NewGateway(rpc.NewEndpoint(server.RPCURL()), opts...), server
}

func activeTask(gid string) *testutil.FakeTask {
	return &testutil.FakeTask{
		GID:             gid,
		Status:          "active",
		Connections:     8,
		DownloadSpeed:   1048576,
		TotalLength:     10485760,
		CompletedLength: 2097152,
		Dir:             "/downloads",
		Files: []testutil.FakeFile{{
			Path: "/downloads/file.bin",
			URIs: []string{"https://example.com/file.bin"},
		}},
	}
}

func TestGatewayGetVersion(t *testing.T) {
	gw, server := newGateway(t)

	v, err := gw.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeVersion, v.Version)
	assert.NotEmpty(t, v.EnabledFeatures)

	server.SetVersion("1.36.0")
	v, err = gw.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.36.0", v.Version)
}

func TestGatewayTellActiveDecodesQuotedNumbers(t *testing.T) {
	gw, server := newGateway(t)
	server.AddTask(activeTask("2089b05ecca3d829"))
	server.AddTask(&testutil.FakeTask{GID: "00000000000000aa", Status: "paused"})

	tasks, err := gw.TellActive(context.Background(), rpc.ActiveKeys)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, "2089b05ecca3d829", task.GID)
	assert.Equal(t, rpc.StatusActive, task.Status)
	assert.Equal(t, rpc.Number(8), task.Connections)
	assert.Equal(t, rpc.Number(1048576), task.DownloadSpeed)
	assert.Equal(t, rpc.Number(10485760), task.TotalLength)
	assert.Equal(t, rpc.Number(2097152), task.CompletedLength)
	require.Len(t, task.Files, 1)
	assert.Equal(t, "/downloads/file.bin", task.Files[0].Path)
	require.Len(t, task.Files[0].URIs, 1)
	assert.Equal(t, "https://example.com/file.bin", task.Files[0].URIs[0].URI)

	calls := server.CallsFor("aria2.tellActive")
	require.Len(t, calls, 1)
	var keys []string
	require.NoError(t, json.Unmarshal(calls[0].Params[0], &keys))
	assert.Equal(t, rpc.ActiveKeys, keys)
}

func TestGatewayTellActiveEmpty(t *testing.T) {
	gw, _ := newGateway(t)

	tasks, err := gw.TellActive(context.Background(), rpc.ActiveKeys)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestGatewayTellStatus(t *testing.T) {
	gw, server := newGateway(t)
	server.AddTask(activeTask("2089b05ecca3d829"))

	t.Run("gid is set although not selected", func(t *testing.T) {
		task, err := gw.TellStatus(context.Background(), "2089b05ecca3d829", rpc.StatusKeys)
		require.NoError(t, err)
		assert.Equal(t, "2089b05ecca3d829", task.GID)
		assert.Equal(t, rpc.StatusActive, task.Status)
	})

	t.Run("unknown gid is a protocol error", func(t *testing.T) {
		task, err := gw.TellStatus(context.Background(), "ffffffffffffffff", rpc.StatusKeys)
		require.Error(t, err)
		assert.Empty(t, task.GID)

		var pe *rpc.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "aria2.tellStatus", pe.Method)
		assert.Equal(t, 1, pe.Code)
		assert.Contains(t, pe.Message, "is not found")
		assert.True(t, rpc.IsProtocol(err))
		assert.False(t, rpc.IsConnectivity(err))
	})
}

func TestGatewayTaskLifecycle(t *testing.T) {
	gw, server := newGateway(t)
	ctx := context.Background()

	gid, err := gw.AddURI(ctx, []string{"https://example.com/a.zip"}, rpc.Options{
		"dir": "/downloads",
		"out": "a.zip",
	})
	require.NoError(t, err)
	require.NotEmpty(t, gid)

	task := server.GetTask(gid)
	require.NotNil(t, task)
	assert.Equal(t, "/downloads", task.Options["dir"])
	assert.Equal(t, "/downloads/a.zip", task.Files[0].Path)

	got, err := gw.Pause(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, gid, got)
	assert.Equal(t, "paused", server.GetTask(gid).Status)

	got, err = gw.Unpause(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, gid, got)
	assert.Equal(t, "active", server.GetTask(gid).Status)

	require.NoError(t, gw.ChangeOption(ctx, gid, rpc.Options{"max-download-limit": "5120K"}))
	assert.Equal(t, "5120K", server.GetTask(gid).Options["max-download-limit"])

	got, err = gw.Remove(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, gid, got)
	assert.Equal(t, "removed", server.GetTask(gid).Status)

	require.NoError(t, gw.RemoveDownloadResult(ctx, gid))
	assert.Nil(t, server.GetTask(gid))
}

func TestGatewayAddURINilOptions(t *testing.T) {
	gw, server := newGateway(t)

	_, err := gw.AddURI(context.Background(), []string{"https://example.com/x"}, nil)
	require.NoError(t, err)

	calls := server.CallsFor("aria2.addUri")
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Params, 2)
	assert.JSONEq(t, `{}`, string(calls[0].Params[1]))
}

func TestGatewayShutdown(t *testing.T) {
	gw, server := newGateway(t)

	require.NoError(t, gw.Shutdown(context.Background()))
	assert.Equal(t, 1, server.Shutdowns())
}

func TestGatewayFailedMethod(t *testing.T) {
	gw, server := newGateway(t)
	server.FailMethod("aria2.shutdown", "shutdown refused")

	err := gw.Shutdown(context.Background())
	require.Error(t, err)

	var pe *rpc.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "shutdown refused", pe.Message)
	assert.Contains(t, err.Error(), "aria2.shutdown")
}

func TestGatewaySecret(t *testing.T) {
	secret := gofakeit.Password(true, true, true, false, false, 16)

	t.Run("token is sent first", func(t *testing.T) {
		gw, server := newGateway(t, rpc.WithSecret(secret))
		server.SetSecret(secret)
		server.AddTask(activeTask("2089b05ecca3d829"))

		_, err := gw.TellStatus(context.Background(), "2089b05ecca3d829", rpc.StatusKeys)
		require.NoError(t, err)

		calls := server.Calls()
		require.Len(t, calls, 1)
		var token string
		require.NoError(t, json.Unmarshal(calls[0].Params[0], &token))
		assert.Equal(t, "token:"+secret, token)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		gw, server := newGateway(t)
		server.SetSecret(secret)

		_, err := gw.GetVersion(context.Background())
		var pe *rpc.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "Unauthorized", pe.Message)
	})
}

func TestGatewaySkipsNotifications(t *testing.T) {
	gw, server := newGateway(t)
	server.SetNotifications(true)
	server.AddTask(activeTask("2089b05ecca3d829"))

	v, err := gw.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeVersion, v.Version)

	tasks, err := gw.TellActive(context.Background(), rpc.ActiveKeys)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGatewayFreshConnectionPerCall(t *testing.T) {
	gw, server := newGateway(t)
	ctx := context.Background()

	for range 5 {
		_, err := gw.GetVersion(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, server.Connections())
}

func TestGatewayConcurrentCalls(t *testing.T) {
	gw, server := newGateway(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gw.GetVersion(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 20, server.Connections())
}

func TestGatewayConnectivityErrors(t *testing.T) {
	t.Run("unset endpoint", func(t *testing.T) {
		gw := rpc.NewGateway(rpc.NewEndpoint(""))

		_, err := gw.GetVersion(context.Background())
		require.Error(t, err)
		assert.True(t, rpc.IsConnectivity(err))
		assert.ErrorIs(t, err, rpc.ErrEndpointUnset)
	})

	t.Run("refused connection", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		gw := rpc.NewGateway(rpc.NewEndpoint(rpc.LoopbackURL(port)), rpc.WithTimeout(2*time.Second))
		_, err = gw.TellActive(context.Background(), rpc.ActiveKeys)
		require.Error(t, err)

		var ce *rpc.ConnectivityError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "aria2.tellActive", ce.Method)
		assert.Equal(t, rpc.LoopbackURL(port), ce.Addr)
		assert.False(t, rpc.IsProtocol(err))
	})

	t.Run("endpoint switched to a dead address", func(t *testing.T) {
		gw, server := newGateway(t)
		_, err := gw.GetVersion(context.Background())
		require.NoError(t, err)

		server.Close()
		_, err = gw.GetVersion(context.Background())
		assert.True(t, rpc.IsConnectivity(err))
	})

	t.Run("expired context", func(t *testing.T) {
		gw, _ := newGateway(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := gw.GetVersion(ctx)
		assert.True(t, rpc.IsConnectivity(err))
	})
}

func TestNumberJSON(t *testing.T) {
	tests := []struct {
		in   string
		want rpc.Number
	}{
		{`"1048576"`, 1048576},
		{`42`, 42},
		{`null`, 0},
		{`""`, 0},
		{`"0"`, 0},
	}
	for _, tt := range tests {
		var n rpc.Number
		require.NoError(t, json.Unmarshal([]byte(tt.in), &n), tt.in)
		assert.Equal(t, tt.want, n, tt.in)
	}

	var n rpc.Number
	assert.Error(t, json.Unmarshal([]byte(`"12abc"`), &n))

	data, err := json.Marshal(rpc.Number(77))
	require.NoError(t, err)
	assert.JSONEq(t, `"77"`, string(data))
}
