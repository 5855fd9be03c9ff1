package publish

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// IndexEntry is one content item in the canonical index. Only slug and date
// participate in merging, everything else passes through byte-for-byte.
type IndexEntry struct {
	Slug string
	Date string
	raw  json.RawMessage
}

func (e *IndexEntry) UnmarshalJSON(data []byte) error {
	var keyed struct {
		Slug string `json:"slug"`
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	e.Slug = keyed.Slug
	e.Date = keyed.Date
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e IndexEntry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return json.Marshal(map[string]string{"slug": e.Slug, "date": e.Date})
}

// ParseIndexEntry builds an entry from caller-supplied JSON. The slug is the
// unique key and must be present.
func ParseIndexEntry(data json.RawMessage) (IndexEntry, error) {
	var e IndexEntry
	if err := e.UnmarshalJSON(data); err != nil {
		return IndexEntry{}, fmt.Errorf("malformed index entry: %w", err)
	}
	if e.Slug == "" {
		return IndexEntry{}, fmt.Errorf("index entry missing slug")
	}
	return e, nil
}

// MergeIndex applies deletions then upserts to the existing index text and
// re-serializes it sorted by descending date, ties keeping their original
// relative order. A parse failure of the existing text starts from empty
// rather than failing the publish.
func MergeIndex(existing []byte, upserts []IndexEntry, deletions []string) ([]byte, error) {
	var entries []IndexEntry
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &entries); err != nil {
			entries = nil
		}
	}

	// Slug-keyed with first-position, last-write-wins semantics.
	position := make(map[string]int)
	ordered := entries[:0]
	for _, e := range entries {
		if e.Slug == "" {
			continue
		}
		if at, ok := position[e.Slug]; ok {
			ordered[at] = e
			continue
		}
		position[e.Slug] = len(ordered)
		ordered = append(ordered, e)
	}

	deleted := make(map[string]bool, len(deletions))
	for _, slug := range deletions {
		if slug != "" {
			deleted[slug] = true
		}
	}
	if len(deleted) > 0 {
		kept := ordered[:0]
		for _, e := range ordered {
			if !deleted[e.Slug] {
				kept = append(kept, e)
			}
		}
		ordered = kept
		position = make(map[string]int, len(ordered))
		for i, e := range ordered {
			position[e.Slug] = i
		}
	}

	for _, up := range upserts {
		if at, ok := position[up.Slug]; ok {
			ordered[at] = up
			continue
		}
		position[up.Slug] = len(ordered)
		ordered = append(ordered, up)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date > ordered[j].Date
	})

	if len(ordered) == 0 {
		return []byte("[]"), nil
	}
	return json.MarshalIndent(ordered, "", "  ")
}

// MergeCategories follows the same merge shape with a deduplicated, trimmed,
// order-preserving set instead of a keyed map. Passing nil existing text
// makes upserts the authoritative list.
func MergeCategories(existing []byte, upserts []string, deletions []string) ([]byte, error) {
	var parsed struct {
		Categories []string `json:"categories"`
	}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &parsed); err != nil {
			parsed.Categories = nil
		}
	}

	deleted := make(map[string]bool, len(deletions))
	for _, c := range deletions {
		deleted[strings.TrimSpace(c)] = true
	}

	seen := make(map[string]bool)
	result := []string{}
	appendCategory := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] || deleted[c] {
			return
		}
		seen[c] = true
		result = append(result, c)
	}
	for _, c := range parsed.Categories {
		appendCategory(c)
	}
	for _, c := range upserts {
		appendCategory(c)
	}

	return json.MarshalIndent(map[string][]string{"categories": result}, "", "  ")
}
