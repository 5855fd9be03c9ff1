package publish

import (
	"encoding/json"
	"strings"
	"testing"
)

func mustEntry(t *testing.T, raw string) IndexEntry {
	t.Helper()
	e, err := ParseIndexEntry(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ParseIndexEntry(%s) error: %v", raw, err)
	}
	return e
}

func indexSlugs(t *testing.T, data []byte) []string {
	t.Helper()
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("failed to parse merged index %s: %v", data, err)
	}
	slugs := make([]string, len(entries))
	for i, e := range entries {
		slugs[i] = e.Slug
	}
	return slugs
}

func TestParseIndexEntry(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"slug":"hello","date":"2024-01-01"}`},
		{name: "missing slug", raw: `{"date":"2024-01-01"}`, wantErr: true},
		{name: "not json", raw: `{slug}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIndexEntry(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseIndexEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMergeIndex_DateDescending(t *testing.T) {
	existing := []byte(`[
  {"slug":"jan","date":"2024-01-01"},
  {"slug":"mar","date":"2024-03-01"}
]`)

	merged, err := MergeIndex(existing, []IndexEntry{
		mustEntry(t, `{"slug":"feb","date":"2024-02-01"}`),
	}, nil)
	if err != nil {
		t.Fatalf("MergeIndex() error: %v", err)
	}

	got := indexSlugs(t, merged)
	want := []string{"mar", "feb", "jan"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged order = %v, want %v", got, want)
		}
	}
}

func TestMergeIndex_UpsertReplacesBySlug(t *testing.T) {
	existing := []byte(`[{"slug":"post","date":"2024-01-01","title":"old"}]`)

	merged, err := MergeIndex(existing, []IndexEntry{
		mustEntry(t, `{"slug":"post","date":"2024-01-02","title":"new"}`),
	}, nil)
	if err != nil {
		t.Fatalf("MergeIndex() error: %v", err)
	}

	if got := indexSlugs(t, merged); len(got) != 1 {
		t.Fatalf("merged slugs = %v, want exactly one", got)
	}
	if !strings.Contains(string(merged), `"title": "new"`) {
		t.Errorf("merged index kept old entry body: %s", merged)
	}
}

func TestMergeIndex_DeleteThenReinsertRoundTrip(t *testing.T) {
	existing := []byte(`[
  {"slug":"keep","date":"2024-02-01"},
  {"slug":"victim","date":"2024-01-01","extra":"payload"}
]`)

	without, err := MergeIndex(existing, nil, []string{"victim"})
	if err != nil {
		t.Fatalf("MergeIndex(delete) error: %v", err)
	}
	if got := indexSlugs(t, without); len(got) != 1 || got[0] != "keep" {
		t.Fatalf("after deletion slugs = %v, want [keep]", got)
	}

	restored, err := MergeIndex(without, []IndexEntry{
		mustEntry(t, `{"slug":"victim","date":"2024-01-01","extra":"payload"}`),
	}, nil)
	if err != nil {
		t.Fatalf("MergeIndex(reinsert) error: %v", err)
	}
	got := indexSlugs(t, restored)
	want := []string{"keep", "victim"}
	if len(got) != len(want) {
		t.Fatalf("restored slugs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("restored order = %v, want %v", got, want)
		}
	}
}

func TestMergeIndex_OpaqueFieldsSurvive(t *testing.T) {
	existing := []byte(`[{"slug":"a","date":"2024-01-01","cover":"/images/x.png","tags":["go","web"]}]`)

	merged, err := MergeIndex(existing, nil, nil)
	if err != nil {
		t.Fatalf("MergeIndex() error: %v", err)
	}
	for _, fragment := range []string{`"cover"`, `/images/x.png`, `"tags"`, `"go"`} {
		if !strings.Contains(string(merged), fragment) {
			t.Errorf("merged index lost %s: %s", fragment, merged)
		}
	}
}

func TestMergeIndex_CorruptExistingStartsEmpty(t *testing.T) {
	merged, err := MergeIndex([]byte("{not an array"), []IndexEntry{
		mustEntry(t, `{"slug":"only","date":"2024-01-01"}`),
	}, nil)
	if err != nil {
		t.Fatalf("MergeIndex() error: %v", err)
	}
	if got := indexSlugs(t, merged); len(got) != 1 || got[0] != "only" {
		t.Errorf("merged slugs = %v, want [only]", got)
	}
}

func TestMergeIndex_Empty(t *testing.T) {
	merged, err := MergeIndex([]byte(`[{"slug":"a","date":"2024-01-01"}]`), nil, []string{"a"})
	if err != nil {
		t.Fatalf("MergeIndex() error: %v", err)
	}
	if string(merged) != "[]" {
		t.Errorf("empty merge = %q, want []", merged)
	}
}

func TestMergeCategories(t *testing.T) {
	tests := []struct {
		name      string
		existing  []byte
		upserts   []string
		deletions []string
		want      []string
	}{
		{
			name:     "merge preserves order and dedupes",
			existing: []byte(`{"categories":["go","web"]}`),
			upserts:  []string{" web ", "infra", "go"},
			want:     []string{"go", "web", "infra"},
		},
		{
			name:      "deletion removes from existing",
			existing:  []byte(`{"categories":["go","web","old"]}`),
			deletions: []string{"old"},
			want:      []string{"go", "web"},
		},
		{
			name:    "nil existing makes upserts authoritative",
			upserts: []string{"a", "b", "", "a"},
			want:    []string{"a", "b"},
		},
		{
			name:     "corrupt existing starts empty",
			existing: []byte("garbage"),
			upserts:  []string{"fresh"},
			want:     []string{"fresh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergeCategories(tt.existing, tt.upserts, tt.deletions)
			if err != nil {
				t.Fatalf("MergeCategories() error: %v", err)
			}
			var parsed struct {
				Categories []string `json:"categories"`
			}
			if err := json.Unmarshal(merged, &parsed); err != nil {
				t.Fatalf("failed to parse merged categories %s: %v", merged, err)
			}
			if len(parsed.Categories) != len(tt.want) {
				t.Fatalf("categories = %v, want %v", parsed.Categories, tt.want)
			}
			for i := range tt.want {
				if parsed.Categories[i] != tt.want[i] {
					t.Errorf("categories = %v, want %v", parsed.Categories, tt.want)
				}
			}
		})
	}
}
