package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/geekcrawl/crawld/internal/metrics"
)

const (
	defaultInboxSize = 64
	dropLogInterval  = 5 * time.Second
)

// Bus fans events out to per-task and global subscribers. It is safe for
// concurrent use. Publishing copies the event into each registered inbox and
// never blocks: a full inbox drops the event for that subscriber only.
type Bus struct {
	mu         sync.RWMutex
	taskSubs   map[string]map[*Subscriber]struct{}
	globalSubs map[*Subscriber]struct{}

	inboxSize   int
	logger      *zap.Logger
	dropped     atomic.Int64
	dropLimiter rateLimiter
}

// NewBus constructs a Bus. inboxSize bounds each subscriber's private queue;
// zero or negative selects the default.
func NewBus(inboxSize int, logger *zap.Logger) *Bus {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		taskSubs:    make(map[string]map[*Subscriber]struct{}),
		globalSubs:  make(map[*Subscriber]struct{}),
		inboxSize:   inboxSize,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
}

// Subscriber is one consumer's private, ordered inbox. Obtain one via
// SubscribeTask or SubscribeGlobal and release it with Close.
type Subscriber struct {
	bus    *Bus
	taskID string
	global bool
	ch     chan Event
	once   sync.Once
}

// Events exposes the raw inbox channel for select loops.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Receive waits for the next event. When timeout elapses first it returns a
// synthetic heartbeat; when ctx ends it returns the context error.
func (s *Subscriber) Receive(ctx context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case evt := <-s.ch:
		return evt, nil
	case <-timer.C:
		return Heartbeat(), nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close unregisters the subscriber. Safe to call more than once. Events
// already queued remain readable until the channel drains.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// SubscribeTask registers an inbox for one task's event stream. Callers
// should subscribe first and then snapshot the task from the repository so
// no event falls between the two.
func (b *Bus) SubscribeTask(taskID string) *Subscriber {
	sub := &Subscriber{bus: b, taskID: taskID, ch: make(chan Event, b.inboxSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.taskSubs[taskID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.taskSubs[taskID] = set
	}
	set[sub] = struct{}{}
	metrics.SubscriberAdded("task")
	return sub
}

// SubscribeGlobal registers an inbox for the all-tasks stream.
func (b *Bus) SubscribeGlobal() *Subscriber {
	sub := &Subscriber{bus: b, global: true, ch: make(chan Event, b.inboxSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalSubs[sub] = struct{}{}
	metrics.SubscriberAdded("global")
	return sub
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.global {
		if _, ok := b.globalSubs[sub]; ok {
			delete(b.globalSubs, sub)
			metrics.SubscriberRemoved("global")
		}
		return
	}
	set, ok := b.taskSubs[sub.taskID]
	if !ok {
		return
	}
	if _, ok := set[sub]; ok {
		delete(set, sub)
		metrics.SubscriberRemoved("task")
	}
	if len(set) == 0 {
		delete(b.taskSubs, sub.taskID)
	}
}

// CloseAll unregisters every subscriber. Used at shutdown so streaming
// handlers blocked on empty inboxes are not kept alive by the bus.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.globalSubs))
	for sub := range b.globalSubs {
		subs = append(subs, sub)
	}
	for _, set := range b.taskSubs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// NotifyTask publishes an event to every subscriber of the task id. The
// event's TaskID is stamped before delivery.
func (b *Bus) NotifyTask(taskID string, evt Event) {
	evt.TaskID = taskID
	b.mu.RLock()
	defer b.mu.RUnlock()
	metrics.RecordEventPublished("task")
	for sub := range b.taskSubs[taskID] {
		b.deliver(sub, evt)
	}
}

// NotifyGlobal publishes an event to every global subscriber.
func (b *Bus) NotifyGlobal(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	metrics.RecordEventPublished("global")
	for sub := range b.globalSubs {
		b.deliver(sub, evt)
	}
}

func (b *Bus) deliver(sub *Subscriber, evt Event) {
	select {
	case sub.ch <- evt:
	default:
		metrics.RecordEventDropped()
		b.dropped.Add(1)
		if b.dropLimiter.Allow(time.Now()) {
			count := b.dropped.Swap(0)
			b.logger.Warn("events dropped due to subscriber backpressure",
				zap.Int64("dropped", count),
				zap.String("task_id", evt.TaskID),
			)
		}
	}
}

// rateLimiter throttles drop warnings so a stalled subscriber cannot flood
// the log.
type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
