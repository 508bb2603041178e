package database

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("news entry not found")
	ErrInvalidEntry = errors.New("invalid news entry")
)

const (
	// DefaultDelayHours applies when an entry is created without a delay.
	DefaultDelayHours = 1
	maxDelayHours     = math.MaxInt64 / int64(time.Hour)
)

// Entry is a persisted news source definition.
type Entry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	NewsCount  int       `json:"news_count"`
	AutoDialer bool      `json:"auto_dialer"`
	Author     *string   `json:"author"`
	Categories []string  `json:"categories"`
	Tags       []string  `json:"tags"`
	DelayHours int       `json:"delay"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidEntry)
	}
	if e.NewsCount <= 0 {
		return fmt.Errorf("%w: news_count must be positive, got %d", ErrInvalidEntry, e.NewsCount)
	}
	if e.DelayHours <= 0 {
		return fmt.Errorf("%w: delay must be positive, got %d", ErrInvalidEntry, e.DelayHours)
	}
	if int64(e.DelayHours) > maxDelayHours {
		return fmt.Errorf("%w: delay of %d hours is too large", ErrInvalidEntry, e.DelayHours)
	}
	return nil
}

// Interval is the scheduling period derived from DelayHours.
func (e *Entry) Interval() time.Duration {
	return time.Duration(e.DelayHours) * time.Hour
}

// EntryUpdate carries a partial update. Nil fields are left unchanged.
type EntryUpdate struct {
	Name       *string   `json:"name"`
	URL        *string   `json:"url"`
	NewsCount  *int      `json:"news_count"`
	AutoDialer *bool     `json:"auto_dialer"`
	Author     *string   `json:"author"`
	Categories *[]string `json:"categories"`
	Tags       *[]string `json:"tags"`
	DelayHours *int      `json:"delay"`
}

func (u EntryUpdate) apply(e *Entry) {
	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.URL != nil {
		e.URL = *u.URL
	}
	if u.NewsCount != nil {
		e.NewsCount = *u.NewsCount
	}
	if u.AutoDialer != nil {
		e.AutoDialer = *u.AutoDialer
	}
	if u.Author != nil {
		e.Author = u.Author
	}
	if u.Categories != nil {
		e.Categories = *u.Categories
	}
	if u.Tags != nil {
		e.Tags = *u.Tags
	}
	if u.DelayHours != nil {
		e.DelayHours = *u.DelayHours
	}
}
