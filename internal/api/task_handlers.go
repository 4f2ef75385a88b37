package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/task"
)

// createTaskRequest is the JSON body for POST /api/tasks. Option fields are
// pointers so an omitted field falls back to the configured default.
type createTaskRequest struct {
	URL            string `json:"url"`
	OutputDir      string `json:"output_dir"`
	Headless       *bool  `json:"headless"`
	DownloadImages *bool  `json:"download_images"`
	DownloadAudio  *bool  `json:"download_audio"`
	DownloadVideo  *bool  `json:"download_video"`
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.repo.List())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	t, ok := s.repo.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// createTask registers a new task and immediately enqueues it.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	opts := task.Options{
		Headless:       boolOr(req.Headless, s.cfg.Defaults.Headless),
		DownloadImages: boolOr(req.DownloadImages, s.cfg.Defaults.DownloadImages),
		DownloadAudio:  boolOr(req.DownloadAudio, s.cfg.Defaults.DownloadAudio),
		DownloadVideo:  boolOr(req.DownloadVideo, s.cfg.Defaults.DownloadVideo),
	}
	t, err := s.sched.CreateTask(req.URL, req.OutputDir, opts)
	if err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	s.sched.Enqueue(t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	if !s.sched.Delete(id) {
		writeError(w, http.StatusBadRequest, "cannot delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	s.controlTask(w, r, "cancelled", s.sched.Cancel)
}

func (s *Server) pauseTask(w http.ResponseWriter, r *http.Request) {
	s.controlTask(w, r, "paused", s.sched.Pause)
}

func (s *Server) resumeTask(w http.ResponseWriter, r *http.Request) {
	s.controlTask(w, r, "resumed", s.sched.Resume)
}

func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	s.controlTask(w, r, "retrying", s.sched.Retry)
}

// controlTask runs one control verb. An invalid operation for the task's
// current state is a 400 with no mutation.
func (s *Server) controlTask(w http.ResponseWriter, r *http.Request, verb string, op func(string) bool) {
	id := chi.URLParam(r, "task_id")
	if !op(id) {
		writeError(w, http.StatusBadRequest, "cannot "+verbToInfinitive(verb)+" task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": verb})
}

func verbToInfinitive(verb string) string {
	switch verb {
	case "cancelled":
		return "cancel"
	case "paused":
		return "pause"
	case "resumed":
		return "resume"
	case "retrying":
		return "retry"
	default:
		return verb
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
