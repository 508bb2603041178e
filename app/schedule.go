package main

import (
	"log/slog"

	"github.com/lysyi3m/rss-harvest/app/database"
	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/tasks"
)

type taskRegistrar interface {
	Register(def tasks.Definition) (string, error)
}

// scheduleStaticTasks registers one task per task file and returns how many
// were accepted. Invalid definitions are logged and skipped.
func scheduleStaticTasks(registrar taskRegistrar, configs []*feed.Config) int {
	scheduled := 0
	for _, config := range configs {
		id, err := registrar.Register(tasks.Definition{
			SourceURL:      config.URL,
			ItemLimit:      config.Settings.MaxItems,
			Interval:       config.Interval(),
			Label:          config.Label,
			Categories:     config.Categories,
			Tags:           config.Tags,
			ExtractContent: config.Settings.ExtractContent,
		})
		if err != nil {
			slog.Error("Failed to schedule task file", "task_file", config.Name, "error", err)
			continue
		}
		slog.Debug("Task file scheduled", "task_file", config.Name, "task", id)
		scheduled++
	}
	return scheduled
}

// scheduleEntries registers the given news entries and returns how many were accepted.
func scheduleEntries(registrar taskRegistrar, entries []database.Entry) int {
	scheduled := 0
	for _, entry := range entries {
		id, err := registrar.Register(tasks.Definition{
			SourceURL:  entry.URL,
			ItemLimit:  entry.NewsCount,
			Interval:   entry.Interval(),
			Label:      entry.Name,
			Categories: entry.Categories,
			Tags:       entry.Tags,
		})
		if err != nil {
			slog.Error("Failed to schedule news entry", "entry", entry.ID, "name", entry.Name, "error", err)
			continue
		}
		slog.Debug("News entry scheduled", "entry", entry.ID, "task", id)
		scheduled++
	}
	return scheduled
}
