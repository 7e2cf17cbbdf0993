package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/pkg/logger"
)

// TaskFunc is one unit of scheduled work.
type TaskFunc func(ctx context.Context) error

// TaskMetrics records the observable outcome history of one task.
type TaskMetrics struct {
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	AvgDuration  time.Duration `json:"avg_duration"`
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	lastRun time.Time
	hasRun  bool
	kicked  bool
}

// Scheduler runs registered tasks cooperatively on a single goroutine.
// Tasks due in the same tick execute sequentially in dependency order.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*task
	order    []string
	deps     map[string][]string
	debounce time.Duration
	metrics  map[string]TaskMetrics
	kick     chan struct{}
}

// New creates a scheduler. debounce suppresses re-runs of a task that
// was triggered again within the window.
func New(debounce time.Duration) *Scheduler {
	return &Scheduler{
		tasks:    make(map[string]*task),
		deps:     make(map[string][]string),
		debounce: debounce,
		metrics:  make(map[string]TaskMetrics),
		kick:     make(chan struct{}, 1),
	}
}

// Register adds a named task running at the given interval.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q is already registered", name)
	}
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	s.order = append(s.order, name)
	return nil
}

// AddDependency declares that b waits for a: within a tick a runs
// first, and b never runs before a has run at least once.
func (s *Scheduler) AddDependency(a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[a]; !ok {
		return fmt.Errorf("unknown task %q", a)
	}
	if _, ok := s.tasks[b]; !ok {
		return fmt.Errorf("unknown task %q", b)
	}
	s.deps[b] = append(s.deps[b], a)
	if s.hasCycleLocked() {
		s.deps[b] = s.deps[b][:len(s.deps[b])-1]
		return fmt.Errorf("dependency %s -> %s would create a cycle", a, b)
	}
	return nil
}

func (s *Scheduler) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[string]int, len(s.tasks))
	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = gray
		for _, dep := range s.deps[name] {
			switch state[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		state[name] = black
		return false
	}
	for name := range s.tasks {
		if state[name] == white && visit(name) {
			return true
		}
	}
	return false
}

// Kick marks a task due on the next tick regardless of its interval.
func (s *Scheduler) Kick(name string) {
	s.mu.Lock()
	if t, ok := s.tasks[name]; ok {
		t.kicked = true
	}
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Metrics returns a copy of the per-task metrics.
func (s *Scheduler) Metrics() map[string]TaskMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskMetrics, len(s.metrics))
	for name, m := range s.metrics {
		out[name] = m
	}
	return out
}

// Run executes the tick loop until the context is cancelled. The task
// in flight when cancellation arrives finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("[Scheduler] Started", "tasks", len(s.taskNames()))
	for {
		due := s.dueTasks(time.Now())
		for _, t := range due {
			if ctx.Err() != nil {
				logger.Info("[Scheduler] Stopped")
				return
			}
			s.runTask(ctx, t)
		}

		wait := s.nextWake(time.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("[Scheduler] Stopped")
			return
		case <-s.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) taskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// dueTasks selects runnable tasks and orders them so dependencies run
// before their dependents.
func (s *Scheduler) dueTasks(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	dueSet := make(map[string]*task)
	for _, name := range s.order {
		t := s.tasks[name]
		due := t.kicked || !t.hasRun || !now.Before(t.lastRun.Add(t.interval))
		if !due {
			continue
		}
		if t.hasRun && now.Sub(t.lastRun) < s.debounce {
			continue
		}
		dueSet[name] = t
	}

	// A task whose prerequisite has never run and is not part of this
	// tick waits for a later round.
	for name := range dueSet {
		for _, dep := range s.deps[name] {
			if !s.tasks[dep].hasRun {
				if _, inTick := dueSet[dep]; !inTick {
					delete(dueSet, name)
					break
				}
			}
		}
	}

	names := make([]string, 0, len(dueSet))
	for name := range dueSet {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.registrationIndex(names[i]) < s.registrationIndex(names[j])
	})

	// Kahn's algorithm restricted to the due set.
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		for _, dep := range s.deps[name] {
			if _, inTick := dueSet[dep]; inTick {
				indegree[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	var ordered []*task
	queue := make([]string, 0, len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, dueSet[name])
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return ordered
}

func (s *Scheduler) registrationIndex(name string) int {
	for i, n := range s.order {
		if n == name {
			return i
		}
	}
	return len(s.order)
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	start := time.Now()
	err := t.fn(ctx)
	duration := time.Since(start)

	s.mu.Lock()
	t.lastRun = start
	t.hasRun = true
	t.kicked = false

	m := s.metrics[t.name]
	m.Runs++
	m.LastRun = start
	m.LastDuration = duration
	if err != nil {
		m.Failures++
		m.LastError = err.Error()
	} else {
		m.LastError = ""
	}
	if m.Runs == 1 {
		m.AvgDuration = duration
	} else {
		m.AvgDuration += (duration - m.AvgDuration) / time.Duration(m.Runs)
	}
	s.metrics[t.name] = m
	s.mu.Unlock()

	if err != nil {
		logger.Error("[Scheduler] Task failed", "task", t.name, "err", err, "duration", duration)
		return
	}
	logger.Debug("[Scheduler] Task complete", "task", t.name, "duration", duration)
}

// nextWake computes how long to sleep until the earliest task is due.
func (s *Scheduler) nextWake(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	const maxSleep = time.Minute
	wait := maxSleep
	for _, t := range s.tasks {
		var until time.Duration
		if t.kicked || !t.hasRun {
			until = t.lastRun.Add(s.debounce).Sub(now)
		} else {
			until = t.lastRun.Add(t.interval).Sub(now)
		}
		if until < time.Millisecond {
			until = time.Millisecond
		}
		if until < wait {
			wait = until
		}
	}
	return wait
}
