package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-harvest/app/database"
	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/results"
	"github.com/lysyi3m/rss-harvest/app/tasks"
)

func NewHandler(scheduler tasks.TaskSchedulerInterface, sink ResultStore,
	entryRepo database.EntryRepositoryInterface, configCache *feed.ConfigCache) *Handler {
	return &Handler{
		scheduler:   scheduler,
		sink:        sink,
		entryRepo:   entryRepo,
		configCache: configCache,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"tasks":     len(h.scheduler.List()),
		"results":   h.sink.Len(),
	}

	if entryCount, err := h.entryRepo.GetEntryCount(); err == nil {
		health["entries"] = entryCount
	}

	if h.configCache != nil {
		health["loaded_configurations"] = h.configCache.GetConfigCount()
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APICreateEntry(c *gin.Context) {
	var entry database.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	created, err := h.entryRepo.CreateEntry(entry)
	if err != nil {
		h.writeEntryError(c, "create_entry", "", err)
		return
	}

	slog.Info("News entry created", "entry", created.ID, "name", created.Name, "url", created.URL)

	response := gin.H{
		"message": "News entry created",
		"entry":   created,
	}

	if created.AutoDialer {
		taskID, err := h.scheduler.Register(entryDefinition(created))
		if err != nil {
			slog.Error("Failed to schedule news entry", "entry", created.ID, "error", err)
			response["schedule_error"] = err.Error()
		} else {
			response["task_id"] = taskID
		}
	}

	c.JSON(http.StatusCreated, response)
}

func (h *Handler) APIListEntries(c *gin.Context) {
	entries, err := h.entryRepo.ListEntries()
	if err != nil {
		slog.Error("Database error", "operation", "list_entries", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handler) APIGetEntry(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.entryRepo.GetEntry(id)
	if err != nil {
		h.writeEntryError(c, "get_entry", id, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) APIUpdateEntry(c *gin.Context) {
	id := c.Param("id")

	var update database.EntryUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	entry, err := h.entryRepo.UpdateEntry(id, update)
	if err != nil {
		h.writeEntryError(c, "update_entry", id, err)
		return
	}

	slog.Info("News entry updated", "entry", id)

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) APIDeleteEntry(c *gin.Context) {
	id := c.Param("id")

	if err := h.entryRepo.DeleteEntry(id); err != nil {
		h.writeEntryError(c, "delete_entry", id, err)
		return
	}

	slog.Info("News entry deleted", "entry", id)

	c.JSON(http.StatusOK, gin.H{"message": "News entry deleted", "id": id})
}

// APIFetchEntry runs one unscheduled cycle for a stored entry.
func (h *Handler) APIFetchEntry(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.entryRepo.GetEntry(id)
	if err != nil {
		h.writeEntryError(c, "get_entry", id, err)
		return
	}

	result, err := h.scheduler.RunOnce(c.Request.Context(), entry.URL, entry.NewsCount)
	if err != nil {
		writeFetchError(c, entry.URL, err)
		return
	}

	result.TaskLabel = entry.Name
	result.Categories = entry.Categories
	result.Tags = entry.Tags

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (h *Handler) APIScheduleEntry(c *gin.Context) {
	id := c.Param("id")

	entry, err := h.entryRepo.GetEntry(id)
	if err != nil {
		h.writeEntryError(c, "get_entry", id, err)
		return
	}

	taskID, err := h.scheduler.Register(entryDefinition(entry))
	if err != nil {
		writeFetchError(c, entry.URL, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Task scheduled successfully", "task_id": taskID})
}

func (h *Handler) APIRegisterTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	interval, err := tasks.IntervalFrom(req.Interval, time.Second)
	if err != nil {
		writeFetchError(c, req.URL, err)
		return
	}

	taskID, err := h.scheduler.Register(tasks.Definition{
		SourceURL:      req.URL,
		ItemLimit:      req.Limit,
		Interval:       interval,
		Label:          req.Label,
		Categories:     req.Categories,
		Tags:           req.Tags,
		ExtractContent: req.ExtractContent,
	})
	if err != nil {
		writeFetchError(c, req.URL, err)
		return
	}

	task, _ := h.scheduler.Get(taskID)

	c.JSON(http.StatusCreated, gin.H{
		"task_id":       taskID,
		"next_run_time": task.NextRunAt,
	})
}

func (h *Handler) APIListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.scheduler.List()})
}

func (h *Handler) APIGetTask(c *gin.Context) {
	id := c.Param("id")

	task, ok := h.scheduler.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":         task.ID,
		"url":             task.SourceURL,
		"label":           task.Label,
		"limit":           task.ItemLimit,
		"interval":        task.Interval.String(),
		"categories":      task.Categories,
		"tags":            task.Tags,
		"extract_content": task.ExtractContent,
		"registered_at":   task.RegisteredAt,
		"next_run_time":   task.NextRunAt,
	})
}

func (h *Handler) APICancelTask(c *gin.Context) {
	id := c.Param("id")

	if !h.scheduler.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Task cancelled", "task_id": id})
}

// APIGetResults returns every stored result without removing any.
func (h *Handler) APIGetResults(c *gin.Context) {
	stored := h.sink.Results()
	if stored == nil {
		stored = []results.IngestionResult{}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": stored,
		"total":   len(stored),
	})
}

func (h *Handler) APIClearResults(c *gin.Context) {
	removed := h.sink.Clear()

	slog.Info("Results cleared", "removed", removed)

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// APIFetch runs one unscheduled cycle for an arbitrary feed URL.
func (h *Handler) APIFetch(c *gin.Context) {
	url := c.Query("url")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	result, err := h.scheduler.RunOnce(c.Request.Context(), url, limit)
	if err != nil {
		writeFetchError(c, url, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (h *Handler) writeEntryError(c *gin.Context, operation, id string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "News entry not found"})
	case errors.Is(err, database.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Database error", "operation", operation, "entry", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	}
}

// writeFetchError maps registration and fetch failures to HTTP statuses.
func writeFetchError(c *gin.Context, url string, err error) {
	if errors.Is(err, tasks.ErrInvalidTask) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var fetchErr *tasks.FetchError
	if errors.As(err, &fetchErr) {
		slog.Warn("Fetch failed", "url", url, "kind", string(fetchErr.Kind), "error", err)

		body := gin.H{"error": err.Error(), "kind": fetchErr.Kind}
		if fetchErr.Kind == tasks.FetchErrorHTTPStatus {
			body["status_code"] = fetchErr.StatusCode
		}

		status := http.StatusBadGateway
		if fetchErr.Kind == tasks.FetchErrorParse {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, body)
		return
	}

	slog.Error("Unexpected fetch error", "url", url, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
}

func entryDefinition(entry *database.Entry) tasks.Definition {
	return tasks.Definition{
		SourceURL:  entry.URL,
		ItemLimit:  entry.NewsCount,
		Interval:   entry.Interval(),
		Label:      entry.Name,
		Categories: entry.Categories,
		Tags:       entry.Tags,
	}
}
