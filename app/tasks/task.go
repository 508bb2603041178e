package tasks

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ErrInvalidTask is returned by Register when a definition fails validation.
var ErrInvalidTask = errors.New("invalid task")

// Definition is the caller-supplied description of a recurring ingestion job.
type Definition struct {
	SourceURL      string
	ItemLimit      int
	Interval       time.Duration
	Label          string
	Categories     []string
	Tags           []string
	ExtractContent bool
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.SourceURL) == "" {
		return fmt.Errorf("%w: source URL is required", ErrInvalidTask)
	}
	if d.ItemLimit <= 0 {
		return fmt.Errorf("%w: item limit must be positive, got %d", ErrInvalidTask, d.ItemLimit)
	}
	if d.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidTask, d.Interval)
	}
	return nil
}

// IntervalFrom converts n units into a Duration. Counts that are not positive
// or do not fit in a Duration are rejected.
func IntervalFrom(n int, unit time.Duration) (time.Duration, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidTask, n)
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: interval of %d x %s is too large", ErrInvalidTask, n, unit)
	}
	return time.Duration(n) * unit, nil
}

// Task is a registered definition owned by the Scheduler.
type Task struct {
	ID             string        `json:"id"`
	SourceURL      string        `json:"source_url"`
	ItemLimit      int           `json:"item_limit"`
	Interval       time.Duration `json:"interval"`
	Label          string        `json:"label"`
	Categories     []string      `json:"categories"`
	Tags           []string      `json:"tags"`
	ExtractContent bool          `json:"extract_content"`
	RegisteredAt   time.Time     `json:"registered_at"`
	NextRunAt      time.Time     `json:"next_run_at"`
}

func newTask(id string, def Definition, now time.Time) Task {
	return Task{
		ID:             id,
		SourceURL:      strings.TrimSpace(def.SourceURL),
		ItemLimit:      def.ItemLimit,
		Interval:       def.Interval,
		Label:          def.Label,
		Categories:     slices.Clone(def.Categories),
		Tags:           slices.Clone(def.Tags),
		ExtractContent: def.ExtractContent,
		RegisteredAt:   now,
		NextRunAt:      now.Add(def.Interval),
	}
}

// Snapshot returns a copy that shares no slices with t.
func (t Task) Snapshot() Task {
	t.Categories = slices.Clone(t.Categories)
	t.Tags = slices.Clone(t.Tags)
	return t
}

// Summary is the listing view of an armed task.
type Summary struct {
	ID        string    `json:"task_id"`
	NextRunAt time.Time `json:"next_run_time"`
}

// Source describes what a single fetch cycle retrieves. Scheduled cycles
// build it from a Task snapshot; ad hoc fetches build it directly.
type Source struct {
	TaskID         string
	URL            string
	ItemLimit      int
	Label          string
	Categories     []string
	Tags           []string
	ExtractContent bool
}

func (t Task) Source() Source {
	return Source{
		TaskID:         t.ID,
		URL:            t.SourceURL,
		ItemLimit:      t.ItemLimit,
		Label:          t.Label,
		Categories:     slices.Clone(t.Categories),
		Tags:           slices.Clone(t.Tags),
		ExtractContent: t.ExtractContent,
	}
}
