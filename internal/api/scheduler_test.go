package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podscout/podscout/internal/scheduler"
)

func TestSchedulerStatusSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.sched.snapshot = scheduler.Snapshot{
		Leader: true,
		Tasks: []scheduler.TaskStatus{
			{Name: scheduler.TaskVetting, Kind: scheduler.KindInterval, Schedule: "every 15m0s", Enabled: true},
		},
	}

	rec := env.do(t, http.MethodGet, "/scheduler/status", "", true)
	requireStatus(t, rec, http.StatusOK)

	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	assert.True(t, snap.Running)
	assert.True(t, snap.Leader)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, scheduler.TaskVetting, snap.Tasks[0].Name)
	assert.True(t, snap.Tasks[0].Enabled)
}

func TestSchedulerStopAndStart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scheduler/stop", "", true)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, env.sched.isPaused())

	var state schedulerRunStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Running)

	rec = env.do(t, http.MethodPost, "/scheduler/start", "", true)
	requireStatus(t, rec, http.StatusOK)
	assert.False(t, env.sched.isPaused())

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Running)
}

func TestSchedulerControlTogglesTask(t *testing.T) {
	env := newTestEnv(t)
	env.sched.known[scheduler.TaskVetting] = true

	rec := env.do(t, http.MethodPost, "/scheduler/control",
		`{"task_name":"`+scheduler.TaskVetting+`","action":"disable"}`, true)
	requireStatus(t, rec, http.StatusOK)

	enabled, ok := env.sched.toggleFor(scheduler.TaskVetting)
	require.True(t, ok)
	assert.False(t, enabled)

	rec = env.do(t, http.MethodPost, "/scheduler/control",
		`{"task_name":"`+scheduler.TaskVetting+`","action":"enable"}`, true)
	requireStatus(t, rec, http.StatusOK)

	enabled, _ = env.sched.toggleFor(scheduler.TaskVetting)
	assert.True(t, enabled)
}

func TestSchedulerControlUnknownTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/scheduler/control",
		`{"task_name":"no-such-task","action":"disable"}`, true)
	requireStatus(t, rec, http.StatusNotFound)
}

func TestSchedulerControlRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	env.sched.known[scheduler.TaskVetting] = true

	rec := env.do(t, http.MethodPost, "/scheduler/control",
		`{"task_name":"`+scheduler.TaskVetting+`","action":"pause"}`, true)
	requireStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/scheduler/control", `{"action":"enable"}`, true)
	requireStatus(t, rec, http.StatusBadRequest)
}
