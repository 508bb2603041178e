package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lysyi3m/rss-harvest/app/results"
)

// OverlapPolicy decides what happens when a task fires while its previous
// cycle is still running.
type OverlapPolicy string

const (
	// OverlapSerialize queues the new cycle behind the running one. At most
	// one cycle waits per task; further firings are dropped.
	OverlapSerialize OverlapPolicy = "serialize"
	// OverlapSkip drops the new cycle. NextRunAt still advances.
	OverlapSkip OverlapPolicy = "skip"
	// OverlapAllow runs cycles of the same task concurrently.
	OverlapAllow OverlapPolicy = "allow"
)

func ParseOverlapPolicy(value string) (OverlapPolicy, error) {
	switch policy := OverlapPolicy(strings.ToLower(strings.TrimSpace(value))); policy {
	case OverlapSerialize, OverlapSkip, OverlapAllow:
		return policy, nil
	case "":
		return OverlapSerialize, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", value)
	}
}

type Options struct {
	OverlapPolicy OverlapPolicy
	// MaxConcurrentFetches bounds in-flight cycles across all tasks. Zero means unbounded.
	MaxConcurrentFetches int
	Metrics              *Metrics
}

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type scheduledTask struct {
	task     Task
	timer    Timer
	gen      uint64
	inFlight int
	// pending marks a serialized cycle dispatched but not yet holding runMu.
	pending bool
	runMu   sync.Mutex
}

// Scheduler owns the task registry and drives each task on its own
// fixed-rate timer. Its lock guards the registry only; fetches run outside it.
type Scheduler struct {
	executor CycleExecutor
	clock    Clock
	policy   OverlapPolicy
	limiter  *semaphore.Weighted
	metrics  *Metrics

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	order   []string
	lastID  int
	lastGen uint64
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(executor CycleExecutor, clock Clock, opts Options) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}

	policy := opts.OverlapPolicy
	if policy == "" {
		policy = OverlapSerialize
	}

	var limiter *semaphore.Weighted
	if opts.MaxConcurrentFetches > 0 {
		limiter = semaphore.NewWeighted(int64(opts.MaxConcurrentFetches))
	}

	return &Scheduler{
		executor: executor,
		clock:    clock,
		policy:   policy,
		limiter:  limiter,
		metrics:  opts.Metrics,
		tasks:    make(map[string]*scheduledTask),
	}
}

// Start arms every registered task. Tasks registered before Start get a
// fresh NextRunAt of now + interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true

	now := s.clock.Now()
	for _, id := range s.order {
		st := s.tasks[id]
		st.task.NextRunAt = now.Add(st.task.Interval)
		s.arm(st)
	}
	s.metrics.setArmed(len(s.order))

	slog.Info("Scheduler started", "tasks", len(s.order), "overlap_policy", string(s.policy))
}

// Stop disarms every timer, cancels in-flight fetches and waits for them to
// return. Registered tasks are kept and re-armed by a later Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, st := range s.tasks {
		s.disarm(st)
	}
	cancel := s.cancel
	s.metrics.setArmed(0)
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	slog.Info("Scheduler stopped")
}

func (s *Scheduler) Register(def Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	id := fmt.Sprintf("task_%d", s.lastID)

	st := &scheduledTask{task: newTask(id, def, s.clock.Now())}
	s.tasks[id] = st
	s.order = append(s.order, id)

	if s.started {
		s.arm(st)
		s.metrics.setArmed(len(s.order))
	}

	slog.Info("Task registered",
		"task", id,
		"label", st.task.Label,
		"url", st.task.SourceURL,
		"interval", st.task.Interval.String(),
		"limit", st.task.ItemLimit,
		"next_run_at", st.task.NextRunAt)

	return id, nil
}

func (s *Scheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return st.task.Snapshot(), true
}

// List returns every registered task in registration order.
func (s *Scheduler) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		st := s.tasks[id]
		summaries = append(summaries, Summary{ID: id, NextRunAt: st.task.NextRunAt})
	}
	return summaries
}

// Cancel disarms and removes a task. A cycle already dispatched for it still
// completes. Unknown ids return false.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return false
	}

	s.disarm(st)
	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(other string) bool { return other == id })

	if s.started {
		s.metrics.setArmed(len(s.order))
	}

	slog.Info("Task cancelled", "task", id, "in_flight", st.inFlight)
	return true
}

// RunOnce fetches url outside of any schedule and returns the result without
// storing it.
func (s *Scheduler) RunOnce(ctx context.Context, url string, limit int) (*results.IngestionResult, error) {
	def := Definition{SourceURL: url, ItemLimit: limit, Interval: time.Nanosecond}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	return s.executor.Run(ctx, Source{URL: strings.TrimSpace(url), ItemLimit: limit})
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(st *scheduledTask) {
	s.lastGen++
	id, gen := st.task.ID, s.lastGen
	st.gen = gen
	st.timer = s.clock.Every(st.task.NextRunAt, st.task.Interval, func(scheduled time.Time) {
		s.fire(id, gen, scheduled)
	})
}

// disarm must be called with s.mu held.
func (s *Scheduler) disarm(st *scheduledTask) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (s *Scheduler) fire(id string, gen uint64, scheduled time.Time) {
	s.mu.Lock()

	// A callback from a timer disarmed by Stop or Cancel must not fire on a
	// later arming of the same task.
	st, ok := s.tasks[id]
	if !ok || !s.started || st.timer == nil || st.gen != gen {
		s.mu.Unlock()
		return
	}

	st.task.NextRunAt = scheduled.Add(st.task.Interval)
	next := st.task.NextRunAt

	switch {
	case s.policy == OverlapSkip && st.inFlight > 0:
		s.mu.Unlock()
		s.metrics.firingSkipped()
		slog.Warn("Previous cycle still running, skipping firing", "task", id, "scheduled_at", scheduled, "next_run_at", next)
		return
	case s.policy == OverlapSerialize && st.pending:
		s.mu.Unlock()
		s.metrics.firingSkipped()
		slog.Warn("Cycle already queued, dropping firing", "task", id, "scheduled_at", scheduled, "next_run_at", next)
		return
	}

	if s.policy == OverlapSerialize {
		st.pending = true
	}
	st.inFlight++
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runCycle(ctx, st)
}

func (s *Scheduler) runCycle(ctx context.Context, st *scheduledTask) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		st.inFlight--
		s.mu.Unlock()
	}()

	if s.policy == OverlapSerialize {
		st.runMu.Lock()
		defer st.runMu.Unlock()

		s.mu.Lock()
		st.pending = false
		s.mu.Unlock()
	}

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, 1); err != nil {
			slog.Debug("Fetch cycle abandoned before start", "task", st.task.ID, "error", err)
			return
		}
		defer s.limiter.Release(1)
	}

	// The task may have been cancelled or the scheduler stopped while this
	// cycle waited for its turn.
	s.mu.Lock()
	current, ok := s.tasks[st.task.ID]
	if !ok || current != st || !s.started {
		s.mu.Unlock()
		slog.Debug("Fetch cycle dropped, task no longer scheduled", "task", st.task.ID)
		return
	}
	task := st.task.Snapshot()
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Fetch cycle panicked", "task", task.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := s.executor.Execute(ctx, task); err != nil {
		slog.Error("Task execution failed, waiting for next interval",
			"task", task.ID,
			"url", task.SourceURL,
			"next_run_at", task.NextRunAt,
			"error", err)
	}
}
