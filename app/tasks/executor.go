package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/results"
)

const DefaultFetchTimeout = 30 * time.Second

// Executor performs fetch-and-parse cycles. Its only side effect is the sink
// append made by Execute.
type Executor struct {
	fetcher          Fetcher
	parser           *feed.Parser
	contentExtractor *feed.ContentExtractor
	sink             ResultSink
	clock            Clock
	timeout          time.Duration
	metrics          *Metrics
}

func NewExecutor(fetcher Fetcher, parser *feed.Parser, contentExtractor *feed.ContentExtractor,
	sink ResultSink, clock Clock, timeout time.Duration, metrics *Metrics) *Executor {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Executor{
		fetcher:          fetcher,
		parser:           parser,
		contentExtractor: contentExtractor,
		sink:             sink,
		clock:            clock,
		timeout:          timeout,
		metrics:          metrics,
	}
}

// Execute runs one cycle for task and appends the result to the sink.
func (e *Executor) Execute(ctx context.Context, task Task) error {
	started := time.Now()

	result, err := e.Run(ctx, task.Source())
	if err != nil {
		return err
	}

	e.sink.Append(*result)
	e.metrics.itemsStored(len(result.Items))

	slog.Info("Task completed",
		"type", "FetchFeed",
		"task", task.ID,
		"label", task.Label,
		"duration", time.Since(started),
		"items", len(result.Items))

	return nil
}

// Run performs one fetch-and-parse cycle and returns the result without storing it.
func (e *Executor) Run(ctx context.Context, source Source) (*results.IngestionResult, error) {
	started := time.Now()

	result, err := e.run(ctx, source)

	outcome := outcomeSuccess
	if err != nil {
		outcome = string(FetchErrorNetwork)
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			outcome = string(fetchErr.Kind)
		}
	}
	e.metrics.observeCycle(outcome, time.Since(started))

	return result, err
}

func (e *Executor) run(ctx context.Context, source Source) (*results.IngestionResult, error) {
	data, err := e.fetchDocument(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	metadata, items, err := e.parser.Run(data, source.ItemLimit)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorParse, URL: source.URL, Err: err}
	}

	slog.Debug("Feed parsed", "task", source.TaskID, "feed", metadata.Title, "type", metadata.FeedType, "items", len(items))

	if source.ExtractContent && e.contentExtractor != nil {
		e.extractContent(ctx, source, items)
	}

	return &results.IngestionResult{
		TaskID:     source.TaskID,
		TaskLabel:  source.Label,
		SourceURL:  source.URL,
		Categories: source.Categories,
		Tags:       source.Tags,
		Items:      items,
		FetchedAt:  e.clock.Now(),
	}, nil
}

// fetchDocument issues one bounded GET and classifies failures.
func (e *Executor) fetchDocument(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	status, data, err := e.fetcher.Fetch(timeoutCtx, url)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorNetwork, URL: url, Err: err}
	}

	if status < 200 || status > 299 {
		return nil, &FetchError{Kind: FetchErrorHTTPStatus, URL: url, StatusCode: status}
	}

	return data, nil
}

// extractContent fills Item.Content from each article page. Failures leave the
// field absent and never fail the cycle.
func (e *Executor) extractContent(ctx context.Context, source Source, items []feed.Item) {
	successCount := 0
	errorCount := 0

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		data, err := e.fetchDocument(ctx, items[i].Link)
		if err != nil {
			slog.Warn("Failed to fetch article content", "task", source.TaskID, "url", items[i].Link, "error", err)
			errorCount++
			continue
		}

		text, err := e.contentExtractor.Run(data, items[i].Link)
		if err != nil {
			slog.Warn("Failed to extract article content", "task", source.TaskID, "url", items[i].Link, "error", err)
			errorCount++
			continue
		}

		items[i].Content = feed.Present(text)
		successCount++
	}

	slog.Debug("Content extraction finished", "task", source.TaskID, "success", successCount, "errors", errorCount)
}
