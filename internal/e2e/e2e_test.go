//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghermez/ariabridge/apitypes"
	"github.com/ghermez/ariabridge/internal/controller"
	"github.com/ghermez/ariabridge/internal/events"
)

// unroutable never answers, so downloads stay active until removed.
const unroutable = "http://10.255.255.1/never.bin"

func startHarness(t *testing.T) *Harness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	h := NewHarness(t, DefaultConfig())
	h.Start(context.Background(), DefaultConfig())
	t.Cleanup(h.Stop)
	return h
}

func TestE2E_Version(t *testing.T) {
	h := startHarness(t)

	var v apitypes.VersionResponse
	require.Equal(t, http.StatusOK, h.Do(http.MethodGet, "/api/version", "", &v))
	assert.NotEqual(t, controller.SentinelNoResponse, v.Version)
	assert.NotEmpty(t, v.Version)

	started := h.WaitForEvent(events.DaemonStarted, time.Second)
	assert.Contains(t, started.Message, v.Version)
}

func TestE2E_DownloadLifecycle(t *testing.T) {
	h := startHarness(t)

	var added apitypes.AddResponse
	require.Equal(t, http.StatusCreated,
		h.Do(http.MethodPost, "/api/downloads", `{"url":"`+unroutable+`","dir":"/downloads","limit":"1M"}`, &added))
	gid := added.GID
	require.NotEmpty(t, gid)

	var task apitypes.Download
	require.Equal(t, http.StatusOK, h.Do(http.MethodGet, "/api/downloads/"+gid, "", &task))
	assert.Equal(t, gid, task.GID)
	assert.Equal(t, unroutable, task.Link)

	var ack apitypes.ControlResponse
	require.Equal(t, http.StatusOK, h.Do(http.MethodPost, "/api/downloads/"+gid+"/pause", "", &ack))
	assert.Equal(t, controller.OK, ack.Result)

	require.Eventually(t, func() bool {
		var polled apitypes.Download
		return h.Do(http.MethodGet, "/api/downloads/"+gid, "", &polled) == http.StatusOK &&
			polled.Status != nil && *polled.Status == "paused"
	}, 10*time.Second, pollSleepInterval)

	require.Equal(t, http.StatusOK, h.Do(http.MethodPost, "/api/downloads/"+gid+"/resume", "", &ack))

	var limit apitypes.LimitResponse
	require.Equal(t, http.StatusAccepted,
		h.Do(http.MethodPut, "/api/downloads/"+gid+"/limit", `{"limit":"256K"}`, &limit))
	assert.Equal(t, "256K", limit.Limit)

	require.Equal(t, http.StatusOK, h.Do(http.MethodDelete, "/api/downloads/"+gid, "", &ack))

	h.WaitForEvent(events.TaskRemoved, 5*time.Second)

	types := EventTypes(h.Server.Timeline().ByGID(gid))
	assert.Equal(t, []events.Type{
		events.TaskAdded,
		events.TaskPaused,
		events.TaskResumed,
		events.SpeedLimitChanged,
		events.TaskRemoved,
	}, types)
}

func TestE2E_FailedDownload(t *testing.T) {
	h := startHarness(t)

	// Nothing listens on port 1 inside the container.
	var added apitypes.AddResponse
	require.Equal(t, http.StatusCreated,
		h.Do(http.MethodPost, "/api/downloads", `{"url":"http://127.0.0.1:1/missing.bin","dir":"/downloads"}`, &added))

	var failed apitypes.Download
	require.Eventually(t, func() bool {
		var polled apitypes.Download
		if h.Do(http.MethodGet, "/api/downloads/"+added.GID, "", &polled) != http.StatusOK {
			return false
		}
		if polled.Status != nil && *polled.Status == "error" {
			failed = polled
			return true
		}
		return false
	}, time.Minute, 500*time.Millisecond)

	assert.NotEmpty(t, failed.Error)
	h.WaitForEvent(events.TaskFailed, time.Second)

	// The failed result is dropped from the daemon.
	assert.Equal(t, http.StatusBadGateway, h.Do(http.MethodGet, "/api/downloads/"+added.GID, "", nil))
}

func TestE2E_ActiveListing(t *testing.T) {
	h := startHarness(t)

	var added apitypes.AddResponse
	require.Equal(t, http.StatusCreated,
		h.Do(http.MethodPost, "/api/downloads", `{"url":"`+unroutable+`","dir":"/downloads"}`, &added))

	require.Eventually(t, func() bool {
		var gids apitypes.GIDList
		return h.Do(http.MethodGet, "/api/downloads/gids", "", &gids) == http.StatusOK &&
			len(gids.GIDs) == 1 && gids.GIDs[0] == added.GID
	}, 10*time.Second, pollSleepInterval)

	var list apitypes.DownloadList
	require.Equal(t, http.StatusOK, h.Do(http.MethodGet, "/api/downloads", "", &list))
	assert.Equal(t, []string{added.GID}, list.GIDs)
}
