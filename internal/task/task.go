package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// exposedLogLines caps how many log lines leave the process (API responses
// and the persisted record). The full log stays in memory for the task's
// lifetime.
const exposedLogLines = 50

// Status is the lifecycle state of a Task.
type Status string

// Task lifecycle states.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further execution. A
// terminal task can only be deleted or explicitly retried.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next follows an edge of the
// lifecycle graph. Identity transitions are not edges.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled || next == StatusPaused
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusCancelled || next == StatusPaused
	case StatusPaused:
		return next == StatusPending
	case StatusFailed, StatusCancelled:
		return next == StatusPending
	default:
		return false
	}
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress tracks how far along a running crawl is.
type Progress struct {
	Current     int
	Total       int
	CurrentItem string
}

// Percentage derives the completion percentage, clamped to [0, 100]. A
// non-positive total yields zero so an undiscovered course never reads as
// complete, and a Runner that over-reports current cannot exceed 100.
func (p Progress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	pct := p.Current * 100 / p.Total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Options is the configuration snapshot copied into a Task at creation time.
// It is never mutated afterward, so a running job behaves deterministically
// even if the global defaults change mid-run.
type Options struct {
	Headless       bool
	DownloadImages bool
	DownloadAudio  bool
	DownloadVideo  bool
}

// DefaultOptions are the options applied when a create request omits them.
func DefaultOptions() Options {
	return Options{
		Headless:       true,
		DownloadImages: true,
		DownloadAudio:  true,
		DownloadVideo:  true,
	}
}

// Task is one durable unit of orchestrated crawl work.
type Task struct {
	ID           string
	URL          string
	Status       Status
	CourseTitle  string
	CourseID     string
	OutputDir    string
	Progress     Progress
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Logs         []string
	Options      Options
}

// New builds a pending Task with a fresh id and the supplied options
// snapshot.
func New(url, outputDir string, opts Options, now time.Time) Task {
	return Task{
		ID:        NewID(),
		URL:       url,
		Status:    StatusPending,
		OutputDir: outputDir,
		CreatedAt: now,
		Options:   opts,
	}
}

// NewID generates an opaque short task id: the first 8 hex characters of a
// random UUID.
func NewID() string {
	return uuid.NewString()[:8]
}

// AppendLog records a timestamped log line on the task.
func (t *Task) AppendLog(now time.Time, message string) string {
	line := FormatLogLine(now, message)
	t.Logs = append(t.Logs, line)
	return line
}

// FormatLogLine renders a log line the way the task log stores it.
func FormatLogLine(now time.Time, message string) string {
	return fmt.Sprintf("[%s] %s", now.Format("15:04:05"), message)
}

// ExposedLogs returns the tail of the log that is safe to serialize.
func (t *Task) ExposedLogs() []string {
	if len(t.Logs) <= exposedLogLines {
		return append([]string(nil), t.Logs...)
	}
	return append([]string(nil), t.Logs[len(t.Logs)-exposedLogLines:]...)
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the authoritative record.
func (t Task) Clone() Task {
	out := t
	out.Logs = append([]string(nil), t.Logs...)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		out.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}
