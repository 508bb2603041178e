package feed

import (
	"encoding/json"
)

// Optional is a string read from feed markup that may be missing from the source.
// The zero value is the absent marker.
type Optional struct {
	value   string
	present bool
}

// Absent marks a field whose tag was not present in the source markup.
var Absent = Optional{}

func Present(value string) Optional {
	return Optional{value: value, present: true}
}

func (o Optional) Get() (string, bool) {
	return o.value, o.present
}

func (o Optional) IsAbsent() bool {
	return !o.present
}

// Or returns the value, or fallback when absent.
func (o Optional) Or(fallback string) string {
	if !o.present {
		return fallback
	}
	return o.value
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Absent
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*o = Present(value)
	return nil
}

// Feed processing types

type Metadata struct {
	Title    string
	Link     string
	Language string
	FeedType string
}

type Item struct {
	Title         string   `json:"title"`
	Link          string   `json:"link"`
	PublishedDate string   `json:"published_date"` // as provided by the feed, not reparsed
	GUID          string   `json:"guid"`
	Creator       Optional `json:"creator"`
	Category      Optional `json:"category"`
	Description   Optional `json:"description"`
	Media         Optional `json:"media"`
	Content       Optional `json:"content"` // extracted article text, only when enabled for the task
}

// Configuration types

type Config struct {
	Name       string         // Derived from filename (without .yml extension)
	URL        string         `yaml:"url"`
	Label      string         `yaml:"label"`
	Categories []string       `yaml:"categories"`
	Tags       []string       `yaml:"tags"`
	Settings   ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	MaxItems        int  `yaml:"max_items"`
	ExtractContent  bool `yaml:"extract_content"`
}
