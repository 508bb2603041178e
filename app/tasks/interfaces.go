package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-harvest/app/results"
)

// Fetcher performs one HTTP GET. A transport failure is returned as an error;
// any HTTP response, whatever its status, is returned as status and body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (int, []byte, error)
}

type ResultSink interface {
	Append(result results.IngestionResult)
}

// CycleExecutor runs fetch cycles on behalf of the Scheduler.
type CycleExecutor interface {
	Run(ctx context.Context, source Source) (*results.IngestionResult, error)
	Execute(ctx context.Context, task Task) error
}

// Clock supplies time and recurring timers. Every calls fn at first,
// first+interval, first+2*interval and so on until the timer is stopped,
// passing the scheduled time of each firing. fn must not block.
type Clock interface {
	Now() time.Time
	Every(first time.Time, interval time.Duration, fn func(scheduled time.Time)) Timer
}

type Timer interface {
	Stop()
}

// TaskSchedulerInterface is the boundary used by the HTTP API and main.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	Register(def Definition) (string, error)
	Get(id string) (Task, bool)
	List() []Summary
	Cancel(id string) bool
	RunOnce(ctx context.Context, url string, limit int) (*results.IngestionResult, error)
}
