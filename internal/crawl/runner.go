package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/markers"
	"github.com/geekcrawl/crawld/internal/scheduler"
	"github.com/geekcrawl/crawld/internal/task"
)

const currentItemMaxLen = 50

// NewRunner builds the scheduler.Runner that executes a crawl through the
// supplied Client. The Runner checkpoints before every chapter and lesson,
// skips lessons already recorded in the course's completion markers, and
// reports progress, logs, and course metadata through the Handle. It is
// safe to invoke again after a pause or retry: the markers make the rerun
// incremental.
func NewRunner(client Client, logger *zap.Logger) scheduler.Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, t task.Task, h *scheduler.Handle) error {
		return run(ctx, client, logger, t, h)
	}
}

func run(ctx context.Context, client Client, logger *zap.Logger, t task.Task, h *scheduler.Handle) error {
	h.Log("Starting crawl for: " + t.URL)
	h.Log("Output directory: " + t.OutputDir)

	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	h.Log("Login successful")

	h.Log("Parsing course structure...")
	course, err := client.FetchCourse(ctx, t.URL)
	if err != nil {
		return fmt.Errorf("fetch course: %w", err)
	}
	h.SetCourseInfo(course.ID, course.Title)
	h.Log(fmt.Sprintf("Course: %s by %s", course.Title, course.Author))

	courseDir := resolveCourseDir(t.OutputDir, course)
	if err := os.MkdirAll(courseDir, 0o755); err != nil {
		return fmt.Errorf("create course dir: %w", err)
	}
	h.SetOutputDir(courseDir)

	marks := markers.NewStore(courseDir)
	marks.Load(course.ID, course.Title)

	total := course.LessonCount()
	if err := marks.SetTotalLessons(total); err != nil {
		logger.Warn("saving lesson total failed", zap.Error(err))
	}
	h.SetTotal(total)
	h.UpdateProgress(0, "")
	h.Log(fmt.Sprintf("Found %d chapters, %d lessons", len(course.Chapters), total))

	count := 0
	for _, chapter := range course.Chapters {
		if err := h.Checkpoint(); err != nil {
			return err
		}
		h.Log("Chapter: " + chapter.Title)
		for _, lesson := range chapter.Lessons {
			if err := h.Checkpoint(); err != nil {
				return err
			}
			count++
			h.UpdateProgress(count, truncate(lesson.Title, currentItemMaxLen))

			if marks.IsLessonComplete(lesson.ID) {
				h.Log("Skip (completed): " + lesson.Title)
				continue
			}
			if err := downloadWithRelogin(ctx, client, marks, h, course, lesson, courseDir); err != nil {
				return err
			}
		}
	}

	h.Log("Crawl completed! Output: " + courseDir)
	return nil
}

// downloadWithRelogin downloads one lesson, retrying once after a re-login
// when the session expired. A lesson-level failure is recorded in the
// markers and logged but does not abort the crawl; a failed re-login does.
func downloadWithRelogin(
	ctx context.Context,
	client Client,
	marks *markers.Store,
	h *scheduler.Handle,
	course Course,
	lesson Lesson,
	courseDir string,
) error {
	h.Log("Downloading: " + lesson.Title)
	result, err := client.DownloadLesson(ctx, course, lesson, courseDir)
	if errors.Is(err, ErrAuthExpired) {
		h.Log("Session expired, logging in again...")
		if loginErr := client.Login(ctx); loginErr != nil {
			return fmt.Errorf("re-login: %w", loginErr)
		}
		h.Log("Re-login successful, retrying lesson...")
		result, err = client.DownloadLesson(ctx, course, lesson, courseDir)
	}
	if err != nil {
		h.Log(fmt.Sprintf("Error (%s): %v", lesson.Title, err))
		if markErr := marks.MarkLessonError(lesson.ID, lesson.Title, err.Error()); markErr != nil {
			h.Log("Recording lesson error failed: " + markErr.Error())
		}
		return nil
	}
	if err := marks.MarkLessonComplete(lesson.ID, lesson.Title, result.ImagesDone, result.AudioDone, result.VideoDone); err != nil {
		h.Log("Recording lesson completion failed: " + err.Error())
	}
	h.Log("Done: " + lesson.Title)
	return nil
}

// resolveCourseDir returns the final course directory. When the task's
// output dir already is the course directory (a resumed task), it is reused
// rather than nested again.
func resolveCourseDir(outputDir string, course Course) string {
	name := courseDirName(course)
	if filepath.Base(outputDir) == name {
		return outputDir
	}
	return filepath.Join(outputDir, name)
}

func courseDirName(course Course) string {
	return sanitizeName(course.ID + "-" + course.Title)
}

// sanitizeName strips characters that are unsafe in directory names.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	out := strings.TrimSpace(replacer.Replace(name))
	if out == "" {
		return "course"
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
