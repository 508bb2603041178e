package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/results"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func feedXML(n int) string {
	var items strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&items, `
    <item>
      <title>Story %d</title>
      <link>https://news.example.com/story-%d</link>
      <guid>story-%d</guid>
      <pubDate>Wed, 01 May 2024 0%d:00:00 GMT</pubDate>
      <description>&lt;p&gt;Summary %d&lt;/p&gt;</description>
    </item>`, i, i, i, i%10, i)
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example News</title>
    <link>https://news.example.com</link>
    <description>Example</description>` + items.String() + `
  </channel>
</rss>`
}

// feedServer serves a fixed status and body and counts requests.
type feedServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newFeedServer(t *testing.T, status int, body string) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func newTestExecutor(sink ResultSink, clock Clock) *Executor {
	fetcher := NewHTTPFetcher(&http.Client{}, "rss-harvest-test", nil)
	return NewExecutor(fetcher, feed.NewParser(), feed.NewContentExtractor(), sink, clock, 5*time.Second, nil)
}

// stubExecutor records cycles and can hold them open until released.
type stubExecutor struct {
	mu         sync.Mutex
	executed   []string
	running    int
	maxRunning int

	started chan string
	release chan struct{}
	sink    ResultSink
	err     error
	panics  bool
}

func newStubExecutor(blocking bool) *stubExecutor {
	e := &stubExecutor{started: make(chan string, 64)}
	if blocking {
		e.release = make(chan struct{})
	}
	return e
}

func (e *stubExecutor) Execute(ctx context.Context, task Task) error {
	e.mu.Lock()
	e.running++
	if e.running > e.maxRunning {
		e.maxRunning = e.running
	}
	e.mu.Unlock()

	e.started <- task.ID

	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
		}
	}

	e.mu.Lock()
	e.running--
	e.executed = append(e.executed, task.ID)
	e.mu.Unlock()

	if e.panics {
		panic("stub executor panic")
	}
	if e.err != nil {
		return e.err
	}
	if e.sink != nil {
		e.sink.Append(results.IngestionResult{TaskID: task.ID, TaskLabel: task.Label})
	}
	return nil
}

func (e *stubExecutor) Run(ctx context.Context, source Source) (*results.IngestionResult, error) {
	return &results.IngestionResult{SourceURL: source.URL}, nil
}

func (e *stubExecutor) executedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func (e *stubExecutor) peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxRunning
}

// recordingExecutor forwards to a real executor and reports every outcome.
type recordingExecutor struct {
	*Executor
	outcomes chan error
}

func (r *recordingExecutor) Execute(ctx context.Context, task Task) error {
	err := r.Executor.Execute(ctx, task)
	r.outcomes <- err
	return err
}

func expectStarted(t *testing.T, e *stubExecutor) string {
	t.Helper()
	select {
	case id := <-e.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a fetch cycle to start")
		return ""
	}
}

func expectNotStarted(t *testing.T, e *stubExecutor) {
	t.Helper()
	select {
	case id := <-e.started:
		t.Fatalf("Expected no further cycle to start, got one for %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}
