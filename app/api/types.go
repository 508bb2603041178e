package api

import (
	"github.com/lysyi3m/rss-harvest/app/database"
	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/results"
	"github.com/lysyi3m/rss-harvest/app/tasks"
)

// ResultStore is the read and clear side of the result sink.
type ResultStore interface {
	Results() []results.IngestionResult
	Len() int
	Clear() int
}

var _ ResultStore = (*results.Sink)(nil)

type Handler struct {
	scheduler   tasks.TaskSchedulerInterface
	sink        ResultStore
	entryRepo   database.EntryRepositoryInterface
	configCache *feed.ConfigCache
}

// taskRequest is the body of POST /api/tasks. Interval is in seconds.
type taskRequest struct {
	URL            string   `json:"url"`
	Limit          int      `json:"limit"`
	Interval       int      `json:"interval"`
	Label          string   `json:"label"`
	Categories     []string `json:"categories"`
	Tags           []string `json:"tags"`
	ExtractContent bool     `json:"extract_content"`
}
