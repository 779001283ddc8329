package models

import "time"

// SortOrder is one (field, direction) pair of a search sort.
type SortOrder struct {
	Field     string
	Ascending bool
}

// SearchQuery holds the criteria of an image search.
//
// Page is 1-based; pages below 2 are not skipped. A zero Limit means no
// limit. When Sort is empty results are ordered by added, newest first.
type SearchQuery struct {
	Page  int64
	Limit int64

	From *time.Time
	To   *time.Time

	ImageIdentifiers  []string
	Checksums         []string
	OriginalChecksums []string

	Sort           []SortOrder
	ReturnMetadata bool
}
