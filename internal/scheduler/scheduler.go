package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/clock"
	"github.com/geekcrawl/crawld/internal/events"
	"github.com/geekcrawl/crawld/internal/metrics"
	"github.com/geekcrawl/crawld/internal/store"
	"github.com/geekcrawl/crawld/internal/task"
)

const (
	defaultConcurrency     = 1
	defaultAutoDeleteDelay = 30 * time.Second
)

// Config controls Scheduler behavior.
//   - Concurrency: number of Runner invocations allowed in flight (default 1).
//   - AutoDeleteDelay: grace period before a completed task is removed
//     (default 30s; negative disables auto-delete).
//   - DefaultOutputDir: output directory applied when a create request
//     leaves it empty.
type Config struct {
	Concurrency      int
	AutoDeleteDelay  time.Duration
	DefaultOutputDir string
}

// Scheduler pulls task ids off an unbounded FIFO queue and supervises the
// Runner for each. Every mutation of a task record, whether from a worker or
// from a concurrent control call, is serialized through one mutex so the two
// sides never race on the same record.
type Scheduler struct {
	cfg    Config
	repo   *store.Repository
	bus    *events.Bus
	clk    clock.Clock
	runner Runner
	logger *zap.Logger

	queue *fifo

	mu           sync.Mutex
	ctrl         map[string]*control
	deleteTimers map[string]*time.Timer

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// New constructs a Scheduler. The runner may be nil, in which case tasks
// complete immediately (useful in tests).
func New(
	cfg Config,
	repo *store.Repository,
	bus *events.Bus,
	clk clock.Clock,
	runner Runner,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.AutoDeleteDelay == 0 {
		cfg.AutoDeleteDelay = defaultAutoDeleteDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:          cfg,
		repo:         repo,
		bus:          bus,
		clk:          clk,
		runner:       runner,
		logger:       logger,
		queue:        newFIFO(),
		ctrl:         make(map[string]*control),
		deleteTimers: make(map[string]*time.Timer),
	}
}

// Start re-enqueues persisted pending tasks in their original queue order
// and launches the worker pool. It is a no-op when already started.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, t := range s.repo.ListByStatus(task.StatusPending) {
		s.queue.Push(t.ID)
		s.logger.Info("re-enqueued pending task", zap.String("task_id", t.ID))
	}
	metrics.SetQueueDepth(s.queue.Len())

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLoop(runCtx)
		}()
	}
}

// Stop interrupts in-flight work and waits for the workers to exit, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	for _, timer := range s.deleteTimers {
		timer.Stop()
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop wait: %w", ctx.Err())
	}
}

// CreateTask registers a new pending task. It does not enqueue it.
func (s *Scheduler) CreateTask(url, outputDir string, opts task.Options) (task.Task, error) {
	if outputDir == "" {
		outputDir = s.cfg.DefaultOutputDir
	}
	t := task.New(url, outputDir, opts, s.clk.Now())
	if err := s.repo.Create(t); err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created", zap.String("task_id", t.ID), zap.String("url", url))
	return t, nil
}

// Enqueue pushes the task onto the FIFO tail and announces it globally.
func (s *Scheduler) Enqueue(t task.Task) {
	s.queue.Push(t.ID)
	metrics.SetQueueDepth(s.queue.Len())
	snapshot := t.Clone()
	s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskQueued, TaskID: t.ID, Task: &snapshot})
}

// Cancel requests cancellation. A pending task is cancelled directly; a
// running task has its cancel flag set and its Runner interrupted, with the
// status change applied once the worker observes the outcome. Any other
// state, or a repeat request, returns false without mutation.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.repo.Get(id)
	if !ok {
		return false
	}
	switch t.Status {
	case task.StatusPending:
		t.Status = task.StatusCancelled
		s.repo.Save(t)
		s.bus.NotifyTask(id, events.Event{Type: events.TypeCancelled})
		snapshot := t.Clone()
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskCancelled, TaskID: id, Task: &snapshot})
		metrics.RecordTaskOutcome(string(task.StatusCancelled))
		return true
	case task.StatusRunning:
		c := s.ctrl[id]
		if c == nil || c.cancelRequested.Load() {
			return false
		}
		c.cancelRequested.Store(true)
		c.interrupt()
		return true
	default:
		return false
	}
}

// Pause requests a pause. A pending task is marked paused directly (its
// queue entry is skipped at dequeue); a running task is marked paused
// optimistically and its Runner is expected to stop at the next checkpoint.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.repo.Get(id)
	if !ok {
		return false
	}
	switch t.Status {
	case task.StatusPending:
		t.Status = task.StatusPaused
	case task.StatusRunning:
		if c := s.ctrl[id]; c != nil {
			c.pauseRequested.Store(true)
		}
		t.Status = task.StatusPaused
	default:
		return false
	}
	s.repo.Save(t)
	s.bus.NotifyTask(id, events.Event{Type: events.TypePaused})
	snapshot := t.Clone()
	s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskPaused, TaskID: id, Task: &snapshot})
	return true
}

// Resume moves a paused task back to pending and re-enqueues it at the FIFO
// tail, with no priority over newer work.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.repo.Get(id)
	if !ok || t.Status != task.StatusPaused {
		return false
	}
	t.Status = task.StatusPending
	s.repo.Save(t)
	s.queue.Push(id)
	metrics.SetQueueDepth(s.queue.Len())
	s.bus.NotifyTask(id, events.Event{Type: events.TypeResumed})
	snapshot := t.Clone()
	s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskResumed, TaskID: id, Task: &snapshot})
	return true
}

// Retry reactivates a failed or cancelled task: error and timestamps are
// cleared, a log line is appended, and the id rejoins the FIFO tail.
func (s *Scheduler) Retry(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.repo.Get(id)
	if !ok {
		return false
	}
	if t.Status != task.StatusFailed && t.Status != task.StatusCancelled {
		return false
	}
	t.Status = task.StatusPending
	t.ErrorMessage = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	t.AppendLog(s.clk.Now(), "task retried")
	s.repo.Save(t)
	s.queue.Push(id)
	metrics.SetQueueDepth(s.queue.Len())
	s.bus.NotifyTask(id, events.Event{Type: events.TypeRetrying})
	snapshot := t.Clone()
	s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskRetrying, TaskID: id, Task: &snapshot})
	return true
}

// Delete removes the task record. It refuses while the task is running and
// cancels any pending auto-delete.
func (s *Scheduler) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.deleteTimers[id]; ok {
		timer.Stop()
		delete(s.deleteTimers, id)
	}
	return s.repo.Delete(id)
}

// QueueDepth reports how many ids are waiting in the admission queue.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

func (s *Scheduler) runLoop(ctx context.Context) {
	for {
		id, ok := s.queue.Pop(ctx)
		if !ok {
			return
		}
		metrics.SetQueueDepth(s.queue.Len())
		s.runTask(ctx, id)
	}
}

// runTask executes one dequeued id end to end: admission check, control
// state, Runner supervision, outcome transition, release.
func (s *Scheduler) runTask(ctx context.Context, id string) {
	s.mu.Lock()
	t, ok := s.repo.Get(id)
	// A queued id may have been cancelled, paused, or deleted before its
	// turn came; anything not pending is skipped.
	if !ok || t.Status != task.StatusPending {
		s.mu.Unlock()
		return
	}
	// A pause+resume can re-enqueue the id while the previous Runner
	// invocation is still draining. Only one invocation per task may exist;
	// finishTask re-enqueues the id once the old control state is released.
	if _, inFlight := s.ctrl[id]; inFlight {
		s.mu.Unlock()
		return
	}
	runCtx, interrupt := context.WithCancel(ctx)
	c := &control{interrupt: interrupt}
	s.ctrl[id] = c

	now := s.clk.Now()
	t.Status = task.StatusRunning
	t.StartedAt = &now
	s.repo.Save(t)
	s.bus.NotifyTask(id, events.Event{Type: events.TypeStarted})
	snapshot := t.Clone()
	s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskStarted, TaskID: id, Task: &snapshot})
	s.mu.Unlock()

	metrics.WorkerStarted()
	var err error
	if s.runner != nil {
		err = s.runner(runCtx, t.Clone(), &Handle{s: s, taskID: id, ctrl: c})
	}
	metrics.WorkerFinished()
	interrupt()

	s.finishTask(id, c, err)
}

// finishTask applies the Runner outcome under the mutation lock and
// releases the per-task control state.
func (s *Scheduler) finishTask(id string, c *control, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		// Release only our own control state. If the task went back to
		// pending while we were draining (pause then resume mid-flight),
		// re-enqueue it: the dequeue path refuses to start an id whose
		// control entry still exists, so the resume may have been skipped.
		if s.ctrl[id] == c {
			delete(s.ctrl, id)
		}
		if t, ok := s.repo.Get(id); ok && t.Status == task.StatusPending {
			s.queue.Push(id)
			metrics.SetQueueDepth(s.queue.Len())
		}
	}()

	t, ok := s.repo.Get(id)
	if !ok {
		return
	}
	now := s.clk.Now()

	// An explicit cancel request always wins, including over a pause that
	// was requested moments later: the optimistic paused status is rolled
	// back to cancelled. A bare context cancellation (shutdown) respects an
	// already-paused task.
	cancelRequested := c.cancelRequested.Load() || errors.Is(err, ErrCancelled)

	switch {
	case cancelRequested:
		if t.Status != task.StatusRunning && t.Status != task.StatusPaused {
			return
		}
		t.Status = task.StatusCancelled
		s.repo.Save(t)
		s.bus.NotifyTask(id, events.Event{Type: events.TypeCancelled})
		snapshot := t.Clone()
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskCancelled, TaskID: id, Task: &snapshot})
		metrics.RecordTaskOutcome(string(task.StatusCancelled))
		s.logger.Info("task cancelled", zap.String("task_id", id))

	case errors.Is(err, ErrPaused):
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPaused
		}
		s.repo.Save(t)
		s.appendLogLocked(id, "task paused, crawl session closed")
		// A resume may already have moved the task back to pending while
		// the Runner was draining; a late paused event would contradict
		// the resumed event the subscribers just saw.
		if t.Status == task.StatusPaused {
			s.bus.NotifyTask(id, events.Event{Type: events.TypePaused})
			snapshot := t.Clone()
			s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskPaused, TaskID: id, Task: &snapshot})
		}
		s.logger.Info("task paused", zap.String("task_id", id))

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if t.Status != task.StatusRunning {
			return
		}
		t.Status = task.StatusCancelled
		s.repo.Save(t)
		s.bus.NotifyTask(id, events.Event{Type: events.TypeCancelled})
		snapshot := t.Clone()
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskCancelled, TaskID: id, Task: &snapshot})
		metrics.RecordTaskOutcome(string(task.StatusCancelled))

	case err != nil:
		if t.Status != task.StatusRunning {
			// A pause or resume slipped in before the failure surfaced;
			// keep that status but preserve the error in the log.
			s.appendLogLocked(id, "Error: "+err.Error())
			return
		}
		t.Status = task.StatusFailed
		t.ErrorMessage = err.Error()
		t.CompletedAt = &now
		s.repo.Save(t)
		s.appendLogLocked(id, "Error: "+err.Error())
		s.bus.NotifyTask(id, events.Event{Type: events.TypeFailed, Error: err.Error()})
		snapshot := t.Clone()
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskFailed, TaskID: id, Task: &snapshot})
		metrics.RecordTaskOutcome(string(task.StatusFailed))
		s.logger.Warn("task failed", zap.String("task_id", id), zap.Error(err))

	default:
		if t.Status != task.StatusRunning {
			// Paused (or resumed) before the Runner returned; the pause
			// outcome stands.
			return
		}
		t.Status = task.StatusCompleted
		t.CompletedAt = &now
		s.repo.Save(t)
		s.bus.NotifyTask(id, events.Event{Type: events.TypeCompleted})
		snapshot := t.Clone()
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskCompleted, TaskID: id, Task: &snapshot})
		metrics.RecordTaskOutcome(string(task.StatusCompleted))
		s.scheduleAutoDeleteLocked(id)
		s.logger.Info("task completed", zap.String("task_id", id))
	}
}

// scheduleAutoDeleteLocked arms the delayed removal of a completed task.
// Callers hold mu.
func (s *Scheduler) scheduleAutoDeleteLocked(id string) {
	if s.cfg.AutoDeleteDelay < 0 {
		return
	}
	if timer, ok := s.deleteTimers[id]; ok {
		timer.Stop()
	}
	s.deleteTimers[id] = time.AfterFunc(s.cfg.AutoDeleteDelay, func() {
		s.autoDelete(id)
	})
}

// autoDelete removes the task only if it is still completed: a retry that
// slipped in first wins.
func (s *Scheduler) autoDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleteTimers, id)
	t, ok := s.repo.Get(id)
	if !ok || t.Status != task.StatusCompleted {
		return
	}
	if s.repo.Delete(id) {
		s.bus.NotifyGlobal(events.Event{Type: events.TypeTaskDeleted, TaskID: id})
		s.logger.Info("completed task auto-deleted", zap.String("task_id", id))
	}
}

// appendLogLocked appends a timestamped log line, persists, and publishes
// it. Callers hold mu.
func (s *Scheduler) appendLogLocked(id, message string) {
	t, ok := s.repo.Get(id)
	if !ok {
		return
	}
	line := t.AppendLog(s.clk.Now(), message)
	s.repo.Save(t)
	s.bus.NotifyTask(id, events.Event{Type: events.TypeLog, Message: line})
}

// publishProgressLocked publishes a progress snapshot. Callers hold mu.
func (s *Scheduler) publishProgressLocked(t task.Task) {
	p := t.Progress
	s.bus.NotifyTask(t.ID, events.Event{Type: events.TypeProgress, Progress: &p})
}
