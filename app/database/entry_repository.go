package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const entryColumns = `id, name, url, news_count, auto_dialer, author, categories, tags, delay_hours, created_at, updated_at`

// EntryRepository handles database operations for news entries
type EntryRepository struct {
	db  *DB
	now func() time.Time
}

func NewEntryRepository(db *DB) *EntryRepository {
	return &EntryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *EntryRepository) CreateEntry(entry Entry) (*Entry, error) {
	entry.Name = strings.TrimSpace(entry.Name)
	entry.URL = strings.TrimSpace(entry.URL)
	if entry.DelayHours == 0 {
		entry.DelayHours = DefaultDelayHours
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	entry.ID = uuid.NewString()
	entry.Categories = nonNil(entry.Categories)
	entry.Tags = nonNil(entry.Tags)
	entry.CreatedAt = r.now()
	entry.UpdatedAt = entry.CreatedAt

	categories, tags, err := encodeLists(entry.Categories, entry.Tags)
	if err != nil {
		return nil, err
	}

	_, err = r.db.Exec(`
		INSERT INTO news_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Name, entry.URL, entry.NewsCount, entry.AutoDialer, entry.Author,
		categories, tags, entry.DelayHours, formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert news entry: %w", err)
	}

	return &entry, nil
}

func (r *EntryRepository) GetEntry(id string) (*Entry, error) {
	row := r.db.QueryRow(`SELECT `+entryColumns+` FROM news_entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get news entry: %w", err)
	}

	return entry, nil
}

// ListEntries returns every entry in creation order.
func (r *EntryRepository) ListEntries() ([]Entry, error) {
	return r.queryEntries(`SELECT ` + entryColumns + ` FROM news_entries ORDER BY created_at, rowid`)
}

// ListAutoDialEntries returns the entries to be scheduled at startup.
func (r *EntryRepository) ListAutoDialEntries() ([]Entry, error) {
	return r.queryEntries(`SELECT ` + entryColumns + ` FROM news_entries WHERE auto_dialer = 1 ORDER BY created_at, rowid`)
}

func (r *EntryRepository) UpdateEntry(id string, update EntryUpdate) (*Entry, error) {
	entry, err := r.GetEntry(id)
	if err != nil {
		return nil, err
	}

	update.apply(entry)
	entry.Name = strings.TrimSpace(entry.Name)
	entry.URL = strings.TrimSpace(entry.URL)
	entry.Categories = nonNil(entry.Categories)
	entry.Tags = nonNil(entry.Tags)
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	entry.UpdatedAt = r.now()

	categories, tags, err := encodeLists(entry.Categories, entry.Tags)
	if err != nil {
		return nil, err
	}

	result, err := r.db.Exec(`
		UPDATE news_entries
		SET name = ?, url = ?, news_count = ?, auto_dialer = ?, author = ?,
		    categories = ?, tags = ?, delay_hours = ?, updated_at = ?
		WHERE id = ?
	`, entry.Name, entry.URL, entry.NewsCount, entry.AutoDialer, entry.Author,
		categories, tags, entry.DelayHours, formatTime(entry.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update news entry: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrNotFound
	}

	return entry, nil
}

func (r *EntryRepository) DeleteEntry(id string) error {
	result, err := r.db.Exec(`DELETE FROM news_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete news entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *EntryRepository) GetEntryCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM news_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count news entries: %w", err)
	}
	return count, nil
}

func (r *EntryRepository) queryEntries(query string, args ...any) ([]Entry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query news entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan news entry row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating news entry rows: %w", err)
	}

	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry                Entry
		author               sql.NullString
		categories, tags     string
		createdAt, updatedAt string
	)

	err := row.Scan(&entry.ID, &entry.Name, &entry.URL, &entry.NewsCount, &entry.AutoDialer, &author,
		&categories, &tags, &entry.DelayHours, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if author.Valid {
		entry.Author = &author.String
	}

	if err := json.Unmarshal([]byte(categories), &entry.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}

	if entry.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &entry, nil
}

func encodeLists(categories, tags []string) (string, string, error) {
	encodedCategories, err := json.Marshal(categories)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode categories: %w", err)
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(encodedCategories), string(encodedTags), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
