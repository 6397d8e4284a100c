package research

import "sort"

// MergeSources dedupes by exact URL (first seen wins, empty URLs dropped),
// orders by descending score keeping input order for ties, and keeps at most
// limit records.
func MergeSources(records []SourceRecord, limit int) []SourceRecord {
	seen := make(map[string]struct{}, len(records))
	merged := make([]SourceRecord, 0, len(records))
	for _, r := range records {
		if r.URL == "" {
			continue
		}
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
