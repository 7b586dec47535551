package template

import (
	"sort"
)

// SortByCreatedDesc orders templates most recent first. Ties keep their
// relative order.
func SortByCreatedDesc(templates []Template) {
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].CreatedAt > templates[j].CreatedAt
	})
}

// IsSortedByCreatedDesc reports whether templates are ordered most recent first
func IsSortedByCreatedDesc(templates []Template) bool {
	for i := 1; i < len(templates); i++ {
		if templates[i-1].CreatedAt < templates[i].CreatedAt {
			return false
		}
	}
	return true
}

// Dedupe keeps one record per id, preferring the most recently updated one
func Dedupe(templates []Template) []Template {
	index := make(map[string]int, len(templates))
	out := templates[:0]
	for _, t := range templates {
		if i, ok := index[t.ID]; ok {
			if t.UpdatedAt > out[i].UpdatedAt {
				out[i] = t
			}
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}
