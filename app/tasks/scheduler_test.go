package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-harvest/app/results"
)

func newStartedScheduler(t *testing.T, executor CycleExecutor, clock Clock, opts Options) *Scheduler {
	t.Helper()
	s := NewScheduler(executor, clock, opts)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func validDefinition(url string) Definition {
	return Definition{SourceURL: url, ItemLimit: 2, Interval: time.Second}
}

func TestParseOverlapPolicy(t *testing.T) {
	tests := []struct {
		input string
		want  OverlapPolicy
		ok    bool
	}{
		{"", OverlapSerialize, true},
		{"serialize", OverlapSerialize, true},
		{" Skip ", OverlapSkip, true},
		{"ALLOW", OverlapAllow, true},
		{"queue", "", false},
	}

	for _, tt := range tests {
		got, err := ParseOverlapPolicy(tt.input)
		if tt.ok {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, "input %q", tt.input)
		}
	}
}

func TestSchedulerRegisterListsTask(t *testing.T) {
	clock := NewManualClock(testEpoch)
	s := newStartedScheduler(t, newStubExecutor(false), clock, Options{})

	id, err := s.Register(Definition{SourceURL: "https://example.com/rss", ItemLimit: 10, Interval: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "task_1", id)

	listed := s.List()
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
	assert.True(t, listed[0].NextRunAt.Equal(testEpoch.Add(5*time.Minute)))
	assert.Equal(t, 1, clock.ActiveTimers())
}

func TestSchedulerRegisterAssignsDistinctIDs(t *testing.T) {
	s := newStartedScheduler(t, newStubExecutor(false), NewManualClock(testEpoch), Options{})

	first, err := s.Register(validDefinition("https://a.example/rss"))
	require.NoError(t, err)
	second, err := s.Register(validDefinition("https://a.example/rss"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	s.Cancel(second)
	third, err := s.Register(validDefinition("https://a.example/rss"))
	require.NoError(t, err)
	assert.NotEqual(t, second, third, "ids are never reused")

	var ids []string
	for _, summary := range s.List() {
		ids = append(ids, summary.ID)
	}
	assert.Equal(t, []string{first, third}, ids)
}

func TestSchedulerRegisterRejectsInvalidDefinitions(t *testing.T) {
	clock := NewManualClock(testEpoch)
	s := newStartedScheduler(t, newStubExecutor(false), clock, Options{})

	invalid := []Definition{
		{SourceURL: "", ItemLimit: 1, Interval: time.Second},
		{SourceURL: "https://example.com/rss", ItemLimit: 0, Interval: time.Second},
		{SourceURL: "https://example.com/rss", ItemLimit: -1, Interval: time.Second},
		{SourceURL: "https://example.com/rss", ItemLimit: 1, Interval: 0},
		{SourceURL: "https://example.com/rss", ItemLimit: 1, Interval: -time.Minute},
	}

	for _, def := range invalid {
		id, err := s.Register(def)
		assert.ErrorIs(t, err, ErrInvalidTask, "definition %+v", def)
		assert.Empty(t, id)
	}

	assert.Empty(t, s.List())
	assert.Zero(t, clock.ActiveTimers())
}

func TestSchedulerGet(t *testing.T) {
	s := newStartedScheduler(t, newStubExecutor(false), NewManualClock(testEpoch), Options{})

	id, err := s.Register(Definition{SourceURL: "https://example.com/rss", ItemLimit: 3, Interval: time.Hour, Label: "example", Tags: []string{"t"}})
	require.NoError(t, err)

	task, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "example", task.Label)
	assert.Equal(t, 3, task.ItemLimit)
	assert.True(t, task.RegisteredAt.Equal(testEpoch))

	task.Tags[0] = "changed"
	again, _ := s.Get(id)
	assert.Equal(t, "t", again.Tags[0])

	_, ok = s.Get("task_404")
	assert.False(t, ok)
}

func TestSchedulerCancel(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(false)
	s := newStartedScheduler(t, executor, clock, Options{})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	assert.True(t, s.Cancel(id))
	assert.Empty(t, s.List())
	assert.Zero(t, clock.ActiveTimers())

	clock.Advance(5 * time.Second)
	expectNotStarted(t, executor)

	assert.False(t, s.Cancel(id), "second cancel of the same id")
	assert.False(t, s.Cancel("task_999"))
}

func TestSchedulerCancelLetsInFlightCycleFinish(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	sink := results.NewSink()
	executor.sink = sink
	s := newStartedScheduler(t, executor, clock, Options{})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	expectStarted(t, executor)

	require.True(t, s.Cancel(id))
	executor.release <- struct{}{}

	require.Eventually(t, func() bool { return sink.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(3 * time.Second)
	expectNotStarted(t, executor)
	assert.Equal(t, 1, executor.executedCount())
}

func TestSchedulerIndependentTasksEachDeliver(t *testing.T) {
	const taskCount = 8

	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(false)
	sink := results.NewSink()
	executor.sink = sink
	s := newStartedScheduler(t, executor, clock, Options{})

	for i := 0; i < taskCount; i++ {
		_, err := s.Register(validDefinition(fmt.Sprintf("https://feed%d.example/rss", i)))
		require.NoError(t, err)
	}

	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return sink.Len() == taskCount }, 2*time.Second, 5*time.Millisecond)

	seen := make(map[string]bool)
	for _, result := range sink.Results() {
		seen[result.TaskID] = true
	}
	assert.Len(t, seen, taskCount)
}

func TestSchedulerEndToEnd(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, feedXML(3))
	clock := NewManualClock(testEpoch)
	sink := results.NewSink()
	s := newStartedScheduler(t, newTestExecutor(sink, clock), clock, Options{})

	id, err := s.Register(Definition{SourceURL: server.URL, ItemLimit: 2, Interval: time.Second, Label: "example"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sink.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	for _, result := range sink.Results() {
		assert.Equal(t, id, result.TaskID)
		assert.Equal(t, "example", result.TaskLabel)
		require.Len(t, result.Items, 2)
		assert.Equal(t, "Story 1", result.Items[0].Title)
		assert.Equal(t, "Story 2", result.Items[1].Title)
	}
	assert.EqualValues(t, 2, server.hits.Load())

	task, _ := s.Get(id)
	assert.True(t, task.NextRunAt.Equal(testEpoch.Add(3*time.Second)))
}

func TestSchedulerFailedCycleKeepsSchedule(t *testing.T) {
	server := newFeedServer(t, http.StatusServiceUnavailable, "down")
	clock := NewManualClock(testEpoch)
	sink := results.NewSink()
	executor := &recordingExecutor{Executor: newTestExecutor(sink, clock), outcomes: make(chan error, 4)}
	s := newStartedScheduler(t, executor, clock, Options{})

	id, err := s.Register(validDefinition(server.URL))
	require.NoError(t, err)

	clock.Advance(time.Second)

	select {
	case err := <-executor.outcomes:
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, FetchErrorHTTPStatus, fetchErr.Kind)
		assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the cycle to finish")
	}

	assert.Zero(t, sink.Len())

	task, ok := s.Get(id)
	require.True(t, ok, "a failed cycle must not unregister the task")
	assert.True(t, task.NextRunAt.Equal(clock.Now().Add(time.Second)))

	clock.Advance(time.Second)
	select {
	case <-executor.outcomes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the task to fire again after a failure")
	}
	assert.EqualValues(t, 2, server.hits.Load())
}

func TestSchedulerFixedRate(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapAllow})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	// Cycles never finish, yet firings stay on the registration grid.
	clock.Advance(3 * time.Second)
	for i := 0; i < 3; i++ {
		expectStarted(t, executor)
	}

	task, _ := s.Get(id)
	assert.True(t, task.NextRunAt.Equal(testEpoch.Add(4*time.Second)))

	for i := 0; i < 3; i++ {
		executor.release <- struct{}{}
	}
}

func TestSchedulerSerializePolicy(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapSerialize, Metrics: metrics})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	expectStarted(t, executor)

	// One firing queues behind the running cycle, the other three are dropped.
	clock.Advance(4 * time.Second)
	expectNotStarted(t, executor)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.skipped))

	task, _ := s.Get(id)
	assert.True(t, task.NextRunAt.Equal(testEpoch.Add(6*time.Second)))

	executor.release <- struct{}{}
	expectStarted(t, executor)
	executor.release <- struct{}{}

	require.Eventually(t, func() bool { return executor.executedCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	expectNotStarted(t, executor)
	assert.Equal(t, 1, executor.peak())
}

func TestSchedulerCancelDropsQueuedCycle(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapSerialize})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	s.mu.Lock()
	st := s.tasks[id]
	s.mu.Unlock()

	clock.Advance(time.Second)
	expectStarted(t, executor)
	clock.Advance(2 * time.Second)

	require.True(t, s.Cancel(id))
	executor.release <- struct{}{}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return st.inFlight == 0
	}, 2*time.Second, 5*time.Millisecond)

	expectNotStarted(t, executor)
	assert.Equal(t, 1, executor.executedCount())
}

func TestSchedulerSkipPolicy(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	metrics := NewMetrics(prometheus.NewRegistry())
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapSkip, Metrics: metrics})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	expectStarted(t, executor)

	clock.Advance(time.Second)
	expectNotStarted(t, executor)

	task, _ := s.Get(id)
	assert.True(t, task.NextRunAt.Equal(testEpoch.Add(3*time.Second)), "a skipped firing still advances the schedule")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.skipped))

	executor.release <- struct{}{}
	require.Eventually(t, func() bool { return executor.executedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Once the cycle is done the next firing runs normally.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.tasks[id].inFlight == 0
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	expectStarted(t, executor)
	executor.release <- struct{}{}
}

func TestSchedulerAllowPolicy(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapAllow})

	_, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	expectStarted(t, executor)
	expectStarted(t, executor)

	assert.Equal(t, 2, executor.peak())

	executor.release <- struct{}{}
	executor.release <- struct{}{}
}

func TestSchedulerMaxConcurrentFetches(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	s := newStartedScheduler(t, executor, clock, Options{OverlapPolicy: OverlapAllow, MaxConcurrentFetches: 1})

	for i := 0; i < 3; i++ {
		_, err := s.Register(validDefinition(fmt.Sprintf("https://feed%d.example/rss", i)))
		require.NoError(t, err)
	}

	clock.Advance(time.Second)

	for i := 0; i < 3; i++ {
		expectStarted(t, executor)
		expectNotStarted(t, executor)
		executor.release <- struct{}{}
	}

	require.Eventually(t, func() bool { return executor.executedCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, executor.peak())
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(false)
	executor.panics = true
	s := newStartedScheduler(t, executor, clock, Options{})

	_, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	expectStarted(t, executor)

	clock.Advance(time.Second)
	expectStarted(t, executor)
}

func TestSchedulerStartAndStop(t *testing.T) {
	clock := NewManualClock(testEpoch)
	executor := newStubExecutor(true)
	s := NewScheduler(executor, clock, Options{})

	id, err := s.Register(validDefinition("https://example.com/rss"))
	require.NoError(t, err)
	assert.Zero(t, clock.ActiveTimers(), "tasks are not armed before Start")

	clock.Advance(10 * time.Second)
	s.Start()
	assert.Equal(t, 1, clock.ActiveTimers())

	task, _ := s.Get(id)
	assert.True(t, task.NextRunAt.Equal(testEpoch.Add(11*time.Second)))

	clock.Advance(time.Second)
	expectStarted(t, executor)

	// Stop cancels the in-flight cycle and waits for it.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Stop to return once in-flight cycles are cancelled")
	}

	assert.Zero(t, clock.ActiveTimers())
	assert.Len(t, s.List(), 1, "Stop keeps registered tasks")

	clock.Advance(5 * time.Second)
	expectNotStarted(t, executor)

	s.mu.Lock()
	staleGen := s.tasks[id].gen
	s.mu.Unlock()

	s.Start()
	defer s.Stop()
	assert.Equal(t, 1, clock.ActiveTimers())

	// A callback left over from the previous arming does nothing.
	s.fire(id, staleGen, clock.Now())
	expectNotStarted(t, executor)
}

func TestSchedulerRunOnce(t *testing.T) {
	server := newFeedServer(t, http.StatusOK, feedXML(3))
	clock := NewManualClock(testEpoch)
	sink := results.NewSink()
	s := newStartedScheduler(t, newTestExecutor(sink, clock), clock, Options{})

	result, err := s.RunOnce(context.Background(), server.URL, 2)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	assert.Empty(t, result.TaskID)

	assert.Zero(t, sink.Len(), "RunOnce must not store results")
	assert.Empty(t, s.List(), "RunOnce must not register a task")
}

func TestSchedulerRunOnceValidates(t *testing.T) {
	s := NewScheduler(newStubExecutor(false), NewManualClock(testEpoch), Options{})

	_, err := s.RunOnce(context.Background(), "", 2)
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = s.RunOnce(context.Background(), "https://example.com/rss", 0)
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestSchedulerConcurrentRegisterAndCancel(t *testing.T) {
	clock := NewManualClock(testEpoch)
	s := newStartedScheduler(t, newStubExecutor(false), clock, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Register(validDefinition(fmt.Sprintf("https://feed%d.example/rss", i)))
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
				return
			}
			if i%2 == 0 {
				s.Cancel(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.List(), 16)
	assert.Equal(t, 16, clock.ActiveTimers())
}
