package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// taskEvents streams one task's events as Server-Sent Events. The stream
// opens with an init snapshot of the task (subscribe first, then snapshot,
// so no event can fall between the two), then relays live events. Quiet
// periods produce heartbeats; a terminal event closes the stream.
func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	if _, ok := s.repo.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.bus.SubscribeTask(id)
	defer sub.Close()

	// Snapshot after subscribing; the subscription catches anything that
	// happens from here on.
	t, ok := s.repo.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	startSSE(w)
	if err := writeSSE(w, flusher, "init", t); err != nil {
		return
	}

	ctx := r.Context()
	for {
		evt, err := sub.Receive(ctx, s.heartbeat)
		if err != nil {
			return
		}
		if writeErr := writeSSE(w, flusher, string(evt.Type), evt); writeErr != nil {
			s.logger.Debug("task event stream closed", zap.String("task_id", id), zap.Error(writeErr))
			return
		}
		if evt.Type.Terminal() {
			return
		}
	}
}

// globalEvents streams all tasks' lifecycle events, opening with an init
// snapshot of the full task list.
func (s *Server) globalEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.bus.SubscribeGlobal()
	defer sub.Close()

	tasks := s.repo.List()

	startSSE(w)
	if err := writeSSE(w, flusher, "init", tasks); err != nil {
		return
	}

	ctx := r.Context()
	for {
		evt, err := sub.Receive(ctx, s.heartbeat)
		if err != nil {
			return
		}
		if writeErr := writeSSE(w, flusher, string(evt.Type), evt); writeErr != nil {
			s.logger.Debug("global event stream closed", zap.Error(writeErr))
			return
		}
	}
}

func startSSE(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	flusher.Flush()
	return nil
}
