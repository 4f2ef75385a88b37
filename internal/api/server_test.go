package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/clock/system"
	"github.com/geekcrawl/crawld/internal/config"
	"github.com/geekcrawl/crawld/internal/events"
	"github.com/geekcrawl/crawld/internal/metrics"
	"github.com/geekcrawl/crawld/internal/scheduler"
	"github.com/geekcrawl/crawld/internal/store"
	"github.com/geekcrawl/crawld/internal/task"
)

type testHarness struct {
	server *Server
	repo   *store.Repository
	sched  *scheduler.Scheduler
	bus    *events.Bus
}

// newHarness wires a Server over a real repository, bus, and scheduler. The
// scheduler is left unstarted so created tasks stay pending and control
// endpoints can be exercised deterministically.
func newHarness(t *testing.T) *testHarness {
	t.Helper()
	repo, err := store.Open(filepath.Join(t.TempDir(), "tasks.json"), zap.NewNop())
	require.NoError(t, err)
	bus := events.NewBus(64, zap.NewNop())

	cfg := config.Config{}
	cfg.Server.Port = 8080
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.TasksFile = "tasks.json"
	cfg.Scheduler.Concurrency = 1
	cfg.Events.InboxSize = 64
	cfg.Events.HeartbeatTimeoutSec = 1
	cfg.Defaults.OutputDir = t.TempDir()
	cfg.Defaults.Headless = true
	cfg.Defaults.DownloadImages = true
	cfg.Defaults.DownloadAudio = true
	cfg.Defaults.DownloadVideo = true
	cfg.Crawl.Client = "simulate"

	sched := scheduler.New(
		scheduler.Config{AutoDeleteDelay: -1, DefaultOutputDir: cfg.Defaults.OutputDir},
		repo, bus, system.Clock{}, nil, zap.NewNop(),
	)
	server := NewServer(repo, sched, bus, cfg, zap.NewNop())
	return &testHarness{server: server, repo: repo, sched: sched, bus: bus}
}

func (h *testHarness) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) createPending(t *testing.T) task.Task {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/tasks", `{"url":"https://example.com/course/42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tk task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tk))
	return tk
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawld_active_workers")
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/tasks",
		`{"url":"https://example.com/course/42","download_video":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "pending", body["status"])
	require.Len(t, body["id"].(string), 8)
	// Omitted options fall back to defaults; explicit false sticks.
	require.Equal(t, true, body["headless"])
	require.Equal(t, false, body["download_video"])

	// Creation enqueues immediately.
	require.Equal(t, 1, h.sched.QueueDepth())
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/tasks", `{"url":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/tasks", `{broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := h.createPending(t)

	rec := h.do(t, http.MethodGet, "/api/tasks/"+tk.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/tasks/nope1234", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createPending(t)
	h.createPending(t)

	rec := h.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
}

func TestCancelEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := h.createPending(t)

	rec := h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"cancelled"}`, rec.Body.String())

	// Already terminal: the verb is refused without mutation.
	rec = h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/cancel", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "cannot cancel task")
}

func TestPauseResumeEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := h.createPending(t)

	rec := h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Resuming a paused task works; resuming again is a 400.
	rec = h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/resume", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryEndpointRefusesPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := h.createPending(t)

	rec := h.do(t, http.MethodPost, "/api/tasks/"+tk.ID+"/retry", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "cannot retry task")
}

func TestDeleteEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tk := h.createPending(t)

	rec := h.do(t, http.MethodDelete, "/api/tasks/"+tk.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/tasks/"+tk.ID, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// readFrame parses one SSE frame (event + data lines up to a blank line).
func readFrame(t *testing.T, br *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestTaskEventStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	tk := h.createPending(t)

	resp, err := http.Get(srv.URL + "/api/tasks/" + tk.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	br := bufio.NewReader(resp.Body)
	event, data := readFrame(t, br)
	require.Equal(t, "init", event)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &snapshot))
	require.Equal(t, tk.ID, snapshot["id"])

	// The init frame is on the wire, so the subscription is registered;
	// cancelling now must reach the stream and close it.
	require.True(t, h.sched.Cancel(tk.ID))

	event, data = readFrame(t, br)
	require.Equal(t, "cancelled", event)
	var evt events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	require.Equal(t, tk.ID, evt.TaskID)

	// Terminal event ends the stream.
	_, err = br.ReadByte()
	require.Error(t, err)
}

func TestTaskEventStreamUnknownTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/tasks/nope1234/events", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGlobalEventStream(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	existing := h.createPending(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	event, data := readFrame(t, br)
	require.Equal(t, "init", event)
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &list))
	require.Len(t, list, 1)
	require.Equal(t, existing.ID, list[0]["id"])

	created := h.createPending(t)
	event, data = readFrame(t, br)
	require.Equal(t, "task_queued", event)
	var evt events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	require.Equal(t, created.ID, evt.TaskID)
	require.NotNil(t, evt.Task)
}

func TestTaskEventStreamHeartbeat(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	tk := h.createPending(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tasks/"+tk.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	event, _ := readFrame(t, br)
	require.Equal(t, "init", event)

	// No events for a quiet second produces a heartbeat frame.
	event, _ = readFrame(t, br)
	require.Equal(t, "heartbeat", event)
}
