// Package crawl provides the reference Runner for course-crawl tasks. The
// Runner drives the cooperative checkpoint protocol, progress reporting,
// and completion markers; the site-specific scraping lives behind the
// injected Client interface and is not implemented here.
package crawl

import (
	"context"
	"errors"
)

// ErrAuthExpired signals that the crawl session lost its authentication and
// a fresh Login may recover it. The Runner retries the current lesson once
// after a successful re-login; everything else is the Client's own business
// to retry internally.
var ErrAuthExpired = errors.New("crawl session authentication expired")

// Lesson is one downloadable unit inside a course.
type Lesson struct {
	ID    string
	Title string
}

// Chapter groups the lessons of one course section.
type Chapter struct {
	Title   string
	Lessons []Lesson
}

// Course is a parsed course structure.
type Course struct {
	ID       string
	Title    string
	Author   string
	Chapters []Chapter
}

// LessonCount totals the lessons across all chapters.
func (c Course) LessonCount() int {
	n := 0
	for _, ch := range c.Chapters {
		n += len(ch.Lessons)
	}
	return n
}

// MediaResult reports which media classes a lesson download produced.
type MediaResult struct {
	ImagesDone bool
	AudioDone  bool
	VideoDone  bool
}

// Client is the boundary behind which the actual page scraping lives. The
// orchestrator never sees markup or site APIs, only this contract.
type Client interface {
	// Login establishes (or re-establishes) an authenticated session.
	Login(ctx context.Context) error
	// FetchCourse resolves the course structure behind the task URL.
	FetchCourse(ctx context.Context, url string) (Course, error)
	// DownloadLesson fetches one lesson's content and media into dir.
	DownloadLesson(ctx context.Context, course Course, lesson Lesson, dir string) (MediaResult, error)
}
