package results

import (
	"slices"
	"sync"
	"time"

	"github.com/lysyi3m/rss-harvest/app/feed"
)

// IngestionResult is the output of one successful fetch cycle. It is a
// snapshot of the task at run time and is never modified after it is stored.
type IngestionResult struct {
	TaskID     string      `json:"task_id,omitempty"`
	TaskLabel  string      `json:"task_label"`
	SourceURL  string      `json:"source_url"`
	Categories []string    `json:"categories"`
	Tags       []string    `json:"tags"`
	Items      []feed.Item `json:"items"`
	FetchedAt  time.Time   `json:"fetched_at"`
}

// Clone returns a deep copy that shares no slices with r.
func (r IngestionResult) Clone() IngestionResult {
	r.Categories = slices.Clone(r.Categories)
	r.Tags = slices.Clone(r.Tags)
	r.Items = slices.Clone(r.Items)
	return r
}

// Sink is the process-wide, append-only store of ingestion results.
// Results are kept in completion order.
type Sink struct {
	mu      sync.RWMutex
	results []IngestionResult
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Append(result IngestionResult) {
	stored := result.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, stored)
}

// Results returns a copy of every stored result without removing them.
func (s *Sink) Results() []IngestionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IngestionResult, len(s.results))
	for i, r := range s.results {
		out[i] = r.Clone()
	}
	return out
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Clear empties the sink and returns how many results were dropped.
func (s *Sink) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.results)
	s.results = nil
	return n
}
