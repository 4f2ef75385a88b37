package scheduler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/geekcrawl/crawld/internal/events"
	"github.com/geekcrawl/crawld/internal/task"
)

// Sentinel outcomes a Runner returns to signal a cooperative stop. Any other
// non-nil error marks the task failed.
var (
	// ErrPaused signals the Runner observed the pause flag at a checkpoint
	// and stopped cleanly.
	ErrPaused = errors.New("task paused")
	// ErrCancelled signals the Runner observed the cancel flag at a
	// checkpoint and aborted cleanly.
	ErrCancelled = errors.New("task cancelled")
)

// Runner performs the actual long-running crawl for one task. The supplied
// task value is a snapshot; all reporting and state checks go through the
// Handle. A Runner must call Handle.Checkpoint (or check Cancelled/Paused)
// at every safe point so partial writes are never left inconsistent, and it
// must honor ctx cancellation as an interrupt.
//
// When a task is resumed the Runner is invoked again from scratch and is
// expected to consult its persisted completion markers to skip work that is
// already done.
type Runner func(ctx context.Context, t task.Task, h *Handle) error

// control is the transient per-task state allocated when a task starts
// running and destroyed when it leaves the running state.
type control struct {
	pauseRequested  atomic.Bool
	cancelRequested atomic.Bool
	interrupt       context.CancelFunc
}

// Handle is the Runner's narrow way back into the orchestrator: log lines,
// progress updates, course metadata, and the cooperative stop flags. All
// methods are safe for concurrent use.
type Handle struct {
	s      *Scheduler
	taskID string
	ctrl   *control
}

// TaskID identifies the task this handle belongs to.
func (h *Handle) TaskID() string {
	return h.taskID
}

// Log appends a timestamped line to the task log and publishes it.
func (h *Handle) Log(message string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.appendLogLocked(h.taskID, message)
}

// UpdateProgress records the current item index and, when non-empty, the
// item label, then publishes a progress event.
func (h *Handle) UpdateProgress(current int, currentItem string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.repo.Get(h.taskID)
	if !ok {
		return
	}
	t.Progress.Current = current
	if currentItem != "" {
		t.Progress.CurrentItem = currentItem
	}
	h.s.repo.Save(t)
	h.s.publishProgressLocked(t)
}

// SetTotal records the discovered item count and publishes progress.
func (h *Handle) SetTotal(total int) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.repo.Get(h.taskID)
	if !ok {
		return
	}
	t.Progress.Total = total
	h.s.repo.Save(t)
	h.s.publishProgressLocked(t)
}

// SetCourseInfo records the course identity once the crawl discovers it.
func (h *Handle) SetCourseInfo(courseID, courseTitle string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.repo.Get(h.taskID)
	if !ok {
		return
	}
	t.CourseID = courseID
	t.CourseTitle = courseTitle
	h.s.repo.Save(t)
	h.s.bus.NotifyTask(h.taskID, events.Event{
		Type:        events.TypeCourseInfo,
		CourseID:    courseID,
		CourseTitle: courseTitle,
	})
	snapshot := t.Clone()
	h.s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskUpdated, TaskID: h.taskID, Task: &snapshot})
}

// SetOutputDir rewrites the task's output directory once the Runner learns
// the final location.
func (h *Handle) SetOutputDir(dir string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	t, ok := h.s.repo.Get(h.taskID)
	if !ok {
		return
	}
	t.OutputDir = dir
	h.s.repo.Save(t)
}

// Cancelled reports whether a cancel has been requested.
func (h *Handle) Cancelled() bool {
	return h.ctrl.cancelRequested.Load()
}

// Paused reports whether a pause has been requested.
func (h *Handle) Paused() bool {
	return h.ctrl.pauseRequested.Load()
}

// Checkpoint is the per-item safe point: it returns ErrCancelled or
// ErrPaused when the corresponding flag is set, nil otherwise. Cancel takes
// precedence when both flags are set.
func (h *Handle) Checkpoint() error {
	if h.ctrl.cancelRequested.Load() {
		return ErrCancelled
	}
	if h.ctrl.pauseRequested.Load() {
		return ErrPaused
	}
	return nil
}
