package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SimClient is a Client that fabricates a course instead of scraping one.
// It exists so the service can run end to end (demos, smoke tests) without
// a real site behind it. Each lesson "download" writes a small text file
// and sleeps LessonDelay, giving pause/cancel checkpoints something to
// interrupt.
type SimClient struct {
	Chapters          int
	LessonsPerChapter int
	LessonDelay       time.Duration

	// FailLessonID, when set, makes that lesson's download fail once per
	// process so retry and marker paths can be exercised.
	FailLessonID string
	failed       bool
}

// Login always succeeds.
func (c *SimClient) Login(_ context.Context) error {
	return nil
}

// FetchCourse fabricates a deterministic course structure from the URL.
func (c *SimClient) FetchCourse(_ context.Context, url string) (Course, error) {
	chapters := c.Chapters
	if chapters <= 0 {
		chapters = 2
	}
	perChapter := c.LessonsPerChapter
	if perChapter <= 0 {
		perChapter = 3
	}
	course := Course{
		ID:     "sim",
		Title:  "Simulated Course",
		Author: "crawld",
	}
	n := 0
	for i := 1; i <= chapters; i++ {
		chapter := Chapter{Title: fmt.Sprintf("Chapter %d", i)}
		for j := 1; j <= perChapter; j++ {
			n++
			chapter.Lessons = append(chapter.Lessons, Lesson{
				ID:    fmt.Sprintf("lesson-%d", n),
				Title: fmt.Sprintf("Lesson %d of %s", n, url),
			})
		}
		course.Chapters = append(course.Chapters, chapter)
	}
	return course, nil
}

// DownloadLesson writes a placeholder file after the configured delay.
func (c *SimClient) DownloadLesson(ctx context.Context, _ Course, lesson Lesson, dir string) (MediaResult, error) {
	if c.FailLessonID != "" && c.FailLessonID == lesson.ID && !c.failed {
		c.failed = true
		return MediaResult{}, fmt.Errorf("simulated download failure for %s", lesson.ID)
	}
	if c.LessonDelay > 0 {
		timer := time.NewTimer(c.LessonDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return MediaResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	path := filepath.Join(dir, lesson.ID+".md")
	content := fmt.Sprintf("# %s\n\nsimulated lesson content\n", lesson.Title)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return MediaResult{}, fmt.Errorf("write lesson: %w", err)
	}
	return MediaResult{ImagesDone: true, AudioDone: true, VideoDone: true}, nil
}
