package feed

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"
)

// ErrParse reports markup that could not be interpreted as feed entries at all.
var ErrParse = errors.New("feed markup could not be parsed")

type Parser struct {
	gofeedParser *gofeed.Parser
	stripper     *bluemonday.Policy
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		stripper:     bluemonday.StrictPolicy(),
	}
}

// Run parses raw feed markup and returns at most limit items in feed order.
// A limit <= 0 returns every usable entry. Entries missing a required field
// are skipped without failing the parse.
func (p *Parser) Run(data []byte, limit int) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	metadata := &Metadata{
		Title:    feed.Title,
		Link:     feed.Link,
		Language: feed.Language,
		FeedType: feed.FeedType,
	}

	capacity := len(feed.Items)
	if limit > 0 && limit < capacity {
		capacity = limit
	}

	// gofeed drops empty summaries, so presence comes from a raw scan.
	presence := summaryPresence(data)
	if len(presence) != len(feed.Items) {
		presence = nil
	}

	items := make([]Item, 0, capacity)
	skipped := 0
	for i, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		if entry == nil {
			continue
		}

		hasSummary := entry.Description != "" || (presence != nil && presence[i])
		item, err := p.normalizeItem(entry, hasSummary)
		if err != nil {
			skipped++
			slog.Debug("Skipping feed entry", "feed", feed.Title, "title", entry.Title, "reason", err)
			continue
		}
		items = append(items, item)
	}

	if skipped > 0 {
		slog.Debug("Feed entries skipped", "feed", feed.Title, "skipped", skipped, "kept", len(items))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(entry *gofeed.Item, hasSummary bool) (Item, error) {
	normalized := Item{
		Title:         strings.TrimSpace(entry.Title),
		Link:          strings.TrimSpace(entry.Link),
		PublishedDate: strings.TrimSpace(cmp.Or(entry.Published, entry.Updated)),
		GUID:          strings.TrimSpace(entry.GUID),
	}

	requiredFields := []struct {
		name  string
		value string
	}{
		{"title", normalized.Title},
		{"link", normalized.Link},
		{"guid", normalized.GUID},
		{"published date", normalized.PublishedDate},
	}
	for _, field := range requiredFields {
		if field.value == "" {
			return Item{}, fmt.Errorf("%s is missing", field.name)
		}
	}

	normalized.Creator = p.extractCreator(entry)

	if len(entry.Categories) > 0 {
		normalized.Category = Present(strings.TrimSpace(entry.Categories[0]))
	}

	if hasSummary {
		normalized.Description = Present(p.cleanSummary(entry.Description))
	}

	normalized.Media = p.extractMedia(entry)

	return normalized, nil
}

func (p *Parser) extractCreator(entry *gofeed.Item) Optional {
	if entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
		return Present(strings.TrimSpace(entry.DublinCoreExt.Creator[0]))
	}

	if dc, ok := entry.Extensions["dc"]; ok {
		if creators := dc["creator"]; len(creators) > 0 {
			return Present(strings.TrimSpace(creators[0].Value))
		}
	}

	return Absent
}

// extractMedia prefers media:thumbnail, then the first enclosure. A
// thumbnail with an empty url attribute yields a present empty value when
// nothing better exists.
func (p *Parser) extractMedia(entry *gofeed.Item) Optional {
	emptyThumbnail := false
	if media, ok := entry.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			raw, ok := thumb.Attrs["url"]
			if !ok {
				continue
			}
			if u := strings.TrimSpace(raw); u != "" {
				return Present(u)
			}
			emptyThumbnail = true
		}
	}

	for _, enclosure := range entry.Enclosures {
		if enclosure != nil && strings.TrimSpace(enclosure.URL) != "" {
			return Present(strings.TrimSpace(enclosure.URL))
		}
	}

	if emptyThumbnail {
		return Present("")
	}
	return Absent
}

// cleanSummary strips embedded HTML, decodes entities and collapses whitespace.
func (p *Parser) cleanSummary(raw string) string {
	text := p.stripper.Sanitize(raw)
	text = html.UnescapeString(text)
	text = strings.Join(strings.Fields(text), " ")
	return norm.NFC.String(text)
}
