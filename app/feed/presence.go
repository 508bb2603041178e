package feed

import (
	"bytes"
	"encoding/xml"
	"io"

	"golang.org/x/text/encoding/htmlindex"
)

type rawEntry struct {
	XMLName  xml.Name
	Children []struct {
		XMLName xml.Name
	} `xml:",any"`
}

// hasSummary reports whether the entry carries its own description (RSS) or
// summary (Atom) element, empty or not. Extension elements such as
// media:description live in another namespace and do not count.
func (e rawEntry) hasSummary() bool {
	for _, child := range e.Children {
		if child.XMLName.Space != e.XMLName.Space {
			continue
		}
		if child.XMLName.Local == "description" || child.XMLName.Local == "summary" {
			return true
		}
	}
	return false
}

// summaryPresence returns, per entry in document order, whether the entry
// had a summary element. It returns nil when the markup cannot be scanned.
func summaryPresence(data []byte) []bool {
	var doc struct {
		Channel struct {
			Items []rawEntry `xml:"item"`
		} `xml:"channel"`
		Items   []rawEntry `xml:"item"`
		Entries []rawEntry `xml:"entry"`
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charsetReader

	if err := decoder.Decode(&doc); err != nil {
		return nil
	}

	var entries []rawEntry
	switch {
	case len(doc.Channel.Items) > 0:
		entries = doc.Channel.Items
	case len(doc.Items) > 0:
		entries = doc.Items
	default:
		entries = doc.Entries
	}

	presence := make([]bool, len(entries))
	for i, entry := range entries {
		presence[i] = entry.hasSummary()
	}
	return presence
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}
