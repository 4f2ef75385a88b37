package task

import (
	"encoding/json"
	"time"
)

// progressJSON is the wire form of Progress. Percentage is derived and
// non-authoritative; it is emitted for consumers and ignored on input.
type progressJSON struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
	CurrentItem string `json:"current_item"`
}

// MarshalJSON includes the derived percentage alongside the raw counters.
func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(progressJSON{
		Current:     p.Current,
		Total:       p.Total,
		Percentage:  p.Percentage(),
		CurrentItem: p.CurrentItem,
	})
}

// UnmarshalJSON restores the counters; percentage is recomputed on demand.
func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw progressJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Current = raw.Current
	p.Total = raw.Total
	p.CurrentItem = raw.CurrentItem
	return nil
}

// taskJSON is the flat persisted/API form of a Task. Timestamps serialize as
// RFC 3339 strings or null.
type taskJSON struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Status         Status     `json:"status"`
	CourseTitle    string     `json:"course_title"`
	CourseID       string     `json:"course_id"`
	OutputDir      string     `json:"output_dir"`
	Progress       Progress   `json:"progress"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorMessage   string     `json:"error_message"`
	Logs           []string   `json:"logs"`
	Headless       bool       `json:"headless"`
	DownloadImages bool       `json:"download_images"`
	DownloadAudio  bool       `json:"download_audio"`
	DownloadVideo  bool       `json:"download_video"`
}

// MarshalJSON emits the flat record with only the exposed log tail.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskJSON{
		ID:             t.ID,
		URL:            t.URL,
		Status:         t.Status,
		CourseTitle:    t.CourseTitle,
		CourseID:       t.CourseID,
		OutputDir:      t.OutputDir,
		Progress:       t.Progress,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		ErrorMessage:   t.ErrorMessage,
		Logs:           t.ExposedLogs(),
		Headless:       t.Options.Headless,
		DownloadImages: t.Options.DownloadImages,
		DownloadAudio:  t.Options.DownloadAudio,
		DownloadVideo:  t.Options.DownloadVideo,
	})
}

// UnmarshalJSON restores a persisted record.
func (t *Task) UnmarshalJSON(data []byte) error {
	var raw taskJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := raw.Status
	if !status.Valid() {
		status = StatusPending
	}
	*t = Task{
		ID:           raw.ID,
		URL:          raw.URL,
		Status:       status,
		CourseTitle:  raw.CourseTitle,
		CourseID:     raw.CourseID,
		OutputDir:    raw.OutputDir,
		Progress:     raw.Progress,
		CreatedAt:    raw.CreatedAt,
		StartedAt:    raw.StartedAt,
		CompletedAt:  raw.CompletedAt,
		ErrorMessage: raw.ErrorMessage,
		Logs:         raw.Logs,
		Options: Options{
			Headless:       raw.Headless,
			DownloadImages: raw.DownloadImages,
			DownloadAudio:  raw.DownloadAudio,
			DownloadVideo:  raw.DownloadVideo,
		},
	}
	return nil
}
