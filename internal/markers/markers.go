// Package markers persists per-course completion markers: the record of
// which lessons a crawl has already finished. A resumed Runner consults the
// markers to skip completed work instead of re-downloading it. The markers
// live as a hidden JSON file inside the course output directory so they
// travel with the downloaded content.
package markers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the marker file kept inside each course directory.
const FileName = ".progress.json"

// LessonMarker records completion state for one lesson.
type LessonMarker struct {
	LessonID    string  `json:"lesson_id"`
	Title       string  `json:"title"`
	ContentDone bool    `json:"content_done"`
	ImagesDone  bool    `json:"images_done"`
	AudioDone   bool    `json:"audio_done"`
	VideoDone   bool    `json:"video_done"`
	CompletedAt *string `json:"completed_at"`
	Error       string  `json:"error,omitempty"`
}

// Complete reports whether the lesson's primary content is finished. Media
// flags are informational; content is the completion criterion.
func (m LessonMarker) Complete() bool {
	return m.ContentDone
}

// CourseMarkers is the full marker set for one course.
type CourseMarkers struct {
	CourseID     string                  `json:"course_id"`
	CourseTitle  string                  `json:"course_title"`
	Lessons      map[string]LessonMarker `json:"lessons"`
	StartedAt    string                  `json:"started_at"`
	UpdatedAt    string                  `json:"updated_at"`
	CompletedAt  *string                 `json:"completed_at"`
	TotalLessons int                     `json:"total_lessons"`
}

// CompletedCount counts lessons whose content is done.
func (c *CourseMarkers) CompletedCount() int {
	n := 0
	for _, m := range c.Lessons {
		if m.Complete() {
			n++
		}
	}
	return n
}

// Store loads and saves the marker file for one course directory.
type Store struct {
	courseDir string
	markers   *CourseMarkers
}

// NewStore binds a Store to the course output directory.
func NewStore(courseDir string) *Store {
	return &Store{courseDir: courseDir}
}

// Load reads the existing marker file or initializes a fresh set when the
// file is absent or unreadable.
func (s *Store) Load(courseID, courseTitle string) *CourseMarkers {
	path := filepath.Join(s.courseDir, FileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var m CourseMarkers
		if jsonErr := json.Unmarshal(data, &m); jsonErr == nil && m.CourseID != "" {
			if m.Lessons == nil {
				m.Lessons = make(map[string]LessonMarker)
			}
			s.markers = &m
			return s.markers
		}
	}
	now := time.Now().Format(time.RFC3339)
	s.markers = &CourseMarkers{
		CourseID:    courseID,
		CourseTitle: courseTitle,
		Lessons:     make(map[string]LessonMarker),
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return s.markers
}

// IsLessonComplete reports whether the lesson was finished by a previous
// run.
func (s *Store) IsLessonComplete(lessonID string) bool {
	if s.markers == nil {
		return false
	}
	m, ok := s.markers.Lessons[lessonID]
	return ok && m.Complete()
}

// SetTotalLessons records the discovered lesson count and saves.
func (s *Store) SetTotalLessons(total int) error {
	if s.markers == nil {
		return nil
	}
	s.markers.TotalLessons = total
	return s.Save()
}

// MarkLessonComplete stamps the lesson done and saves.
func (s *Store) MarkLessonComplete(lessonID, title string, imagesDone, audioDone, videoDone bool) error {
	if s.markers == nil {
		return nil
	}
	now := time.Now().Format(time.RFC3339)
	s.markers.Lessons[lessonID] = LessonMarker{
		LessonID:    lessonID,
		Title:       title,
		ContentDone: true,
		ImagesDone:  imagesDone,
		AudioDone:   audioDone,
		VideoDone:   videoDone,
		CompletedAt: &now,
	}
	return s.Save()
}

// MarkLessonError records a lesson failure without marking it complete, so
// a later resume retries it.
func (s *Store) MarkLessonError(lessonID, title, errText string) error {
	if s.markers == nil {
		return nil
	}
	m, ok := s.markers.Lessons[lessonID]
	if !ok {
		m = LessonMarker{LessonID: lessonID, Title: title}
	}
	m.Error = errText
	s.markers.Lessons[lessonID] = m
	return s.Save()
}

// Save writes the marker file.
func (s *Store) Save() error {
	if s.markers == nil {
		return nil
	}
	s.markers.UpdatedAt = time.Now().Format(time.RFC3339)
	if err := os.MkdirAll(s.courseDir, 0o755); err != nil {
		return fmt.Errorf("create course dir: %w", err)
	}
	data, err := json.MarshalIndent(s.markers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode markers: %w", err)
	}
	path := filepath.Join(s.courseDir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write markers: %w", err)
	}
	return nil
}

// Markers exposes the loaded marker set, nil before Load.
func (s *Store) Markers() *CourseMarkers {
	return s.markers
}
