package events

import "github.com/geekcrawl/crawld/internal/task"

// Type tags an Event with its meaning.
type Type string

// Per-task stream event types.
const (
	TypeStarted    Type = "started"
	TypeProgress   Type = "progress"
	TypeLog        Type = "log"
	TypeCourseInfo Type = "course_info"
	TypePaused     Type = "paused"
	TypeResumed    Type = "resumed"
	TypeCancelled  Type = "cancelled"
	TypeRetrying   Type = "retrying"
	TypeCompleted  Type = "completed"
	TypeFailed     Type = "failed"
	TypeHeartbeat  Type = "heartbeat"
)

// Global stream event types. They carry a full task snapshot so a dashboard
// can render without a follow-up fetch.
const (
	TypeTaskQueued    Type = "task_queued"
	TypeTaskStarted   Type = "task_started"
	TypeTaskUpdated   Type = "task_updated"
	TypeTaskPaused    Type = "task_paused"
	TypeTaskResumed   Type = "task_resumed"
	TypeTaskCancelled Type = "task_cancelled"
	TypeTaskRetrying  Type = "task_retrying"
	TypeTaskCompleted Type = "task_completed"
	TypeTaskFailed    Type = "task_failed"
	TypeTaskDeleted   Type = "task_deleted"
)

// Terminal reports whether the event ends a per-task stream.
func (t Type) Terminal() bool {
	switch t {
	case TypeCompleted, TypeFailed, TypeCancelled:
		return true
	default:
		return false
	}
}

// Event is the tagged union delivered to subscribers. Only the fields
// relevant to the Type are populated; every field is a copy, never a live
// reference into the task registry.
type Event struct {
	Type   Type   `json:"type"`
	TaskID string `json:"task_id,omitempty"`

	Progress    *task.Progress `json:"progress,omitempty"`
	Message     string         `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	CourseID    string         `json:"course_id,omitempty"`
	CourseTitle string         `json:"course_title,omitempty"`
	Task        *task.Task     `json:"task,omitempty"`
}

// Heartbeat is the synthetic event handed to consumers that time out
// waiting; it carries an empty payload.
func Heartbeat() Event {
	return Event{Type: TypeHeartbeat}
}
