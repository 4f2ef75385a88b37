package markers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreLoadInitializesFreshSet(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	m := s.Load("42", "Go Fundamentals")
	require.Equal(t, "42", m.CourseID)
	require.Equal(t, "Go Fundamentals", m.CourseTitle)
	require.Empty(t, m.Lessons)
	require.NotEmpty(t, m.StartedAt)
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir)
	s.Load("42", "Go Fundamentals")
	require.NoError(t, s.SetTotalLessons(3))
	require.NoError(t, s.MarkLessonComplete("l1", "Lesson 1", true, false, false))
	require.NoError(t, s.MarkLessonError("l2", "Lesson 2", "timeout"))

	reopened := NewStore(dir)
	m := reopened.Load("ignored", "ignored")
	// The persisted identity wins over the Load arguments.
	require.Equal(t, "42", m.CourseID)
	require.Equal(t, 3, m.TotalLessons)
	require.True(t, reopened.IsLessonComplete("l1"))
	require.False(t, reopened.IsLessonComplete("l2"))
	require.False(t, reopened.IsLessonComplete("never-seen"))
	require.Equal(t, 1, m.CompletedCount())
	require.Equal(t, "timeout", m.Lessons["l2"].Error)
}

func TestStoreLoadToleratesCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("nope"), 0o644))

	s := NewStore(dir)
	m := s.Load("42", "Go Fundamentals")
	require.Equal(t, "42", m.CourseID)
	require.Empty(t, m.Lessons)
}

func TestMarkLessonErrorThenComplete(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	s.Load("42", "Go Fundamentals")
	require.NoError(t, s.MarkLessonError("l1", "Lesson 1", "boom"))
	require.False(t, s.IsLessonComplete("l1"))

	require.NoError(t, s.MarkLessonComplete("l1", "Lesson 1", true, true, true))
	require.True(t, s.IsLessonComplete("l1"))
}
