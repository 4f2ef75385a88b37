package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/task"
)

// ErrExists signals that a task with the same id is already registered.
var ErrExists = errors.New("task already exists")

// Repository owns the authoritative task set. All mutations are serialized
// through one mutex so the file mirror never sees interleaved writes, and
// each mutating call replaces the file contents wholesale.
//
// Persistence failures are logged and surfaced through lastSaveErr but never
// abort the in-memory transition: availability of in-memory state wins over
// strict durability.
type Repository struct {
	mu     sync.RWMutex
	tasks  map[string]task.Task
	path   string
	logger *zap.Logger

	lastSaveErr error
}

// Open loads (or initializes) the repository backed by the JSON file at path.
// Any persisted task still marked running is demoted to pending: it cannot
// truly be running after a restart. Records that fail to decode are skipped.
func Open(path string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		tasks:  make(map[string]task.Task),
		path:   path,
		logger: logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read task file: %w", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		r.logger.Warn("task file corrupt, starting empty", zap.String("path", r.path), zap.Error(err))
		return nil
	}
	demoted := false
	for _, raw := range records {
		var t task.Task
		if err := json.Unmarshal(raw, &t); err != nil || t.ID == "" {
			r.logger.Warn("skipping corrupt task record", zap.Error(err))
			continue
		}
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPending
			demoted = true
		}
		r.tasks[t.ID] = t
	}
	if demoted {
		r.persistLocked()
	}
	return nil
}

// Create registers a new task and persists the set.
func (r *Repository) Create(t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return ErrExists
	}
	r.tasks[t.ID] = t.Clone()
	r.persistLocked()
	return nil
}

// Get returns a copy of the task, if present.
func (r *Repository) Get(id string) (task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// List returns copies of all tasks ordered by creation time, newest first.
func (r *Repository) List() []task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListByStatus returns copies of all tasks currently in the given status,
// ordered by creation time ascending (original queue position).
func (r *Repository) ListByStatus(status task.Status) []task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Save overwrites the stored record for the task and persists the set. The
// task must already exist; Save never resurrects a deleted task.
func (r *Repository) Save(t task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return
	}
	r.tasks[t.ID] = t.Clone()
	r.persistLocked()
}

// Delete removes the task. It refuses while the task is running.
func (r *Repository) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status == task.StatusRunning {
		return false
	}
	delete(r.tasks, id)
	r.persistLocked()
	return true
}

// LastSaveError reports the most recent persistence failure, nil when the
// last write succeeded. Exposed for operational visibility (readiness).
func (r *Repository) LastSaveError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSaveErr
}

// persistLocked dumps the full task set atomically: write a temp file in the
// same directory, then rename over the previous contents. Callers hold mu.
func (r *Repository) persistLocked() {
	records := make([]task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		records = append(records, t)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	r.lastSaveErr = r.writeFile(records)
	if r.lastSaveErr != nil {
		r.logger.Error("task persistence failed", zap.String("path", r.path), zap.Error(r.lastSaveErr))
	}
}

func (r *Repository) writeFile(records []task.Task) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace task file: %w", err)
	}
	return nil
}
