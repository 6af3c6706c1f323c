package domain

import "strings"

// TagFilter selects items by tag before any attachment is downloaded.
// Matching is case-insensitive substring. An empty include list admits
// every item; the exclude list rejects an item when any tag matches.
type TagFilter struct {
	// Include admits items with at least one matching tag (OR semantics).
	Include []string

	// Exclude rejects items with any matching tag.
	Exclude []string
}

// Empty reports whether the filter admits everything.
func (f TagFilter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Matches reports whether an item with the given tags passes the filter.
func (f TagFilter) Matches(tags []string) bool {
	for _, pattern := range f.Exclude {
		if anyTagContains(tags, pattern) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if anyTagContains(tags, pattern) {
			return true
		}
	}
	return false
}

func anyTagContains(tags []string, pattern string) bool {
	pattern = strings.ToLower(pattern)
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), pattern) {
			return true
		}
	}
	return false
}
