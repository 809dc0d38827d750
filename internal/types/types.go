// Package types defines the records shared between the extraction pipeline
// and the storage layer.
package types

import "time"

// IssueRecord is one normalized row of the issues table, keyed by Key.
// Optional fields are pointers so that a missing value round-trips as SQL
// NULL rather than a zero value. Array fields are never nil: an issue with
// no labels carries an empty slice.
type IssueRecord struct {
	ID              string
	Key             string
	ProjectKey      string
	ProjectName     string
	IssueType       string
	Status          string
	Priority        *string
	Summary         string
	Description     *string
	Assignee        *string
	Reporter        *string
	Created         *time.Time
	Updated         *time.Time
	Resolved        *time.Time
	DueDate         *time.Time
	Labels          []string
	Components      []string
	FixVersions     []string
	AffectsVersions []string
	CustomFields    map[string]interface{}
	ExtractedAt     time.Time
}

// LogEntry is one row of the append-only extraction_log table. Entries are
// inserted after a run completes and are never updated or deleted.
type LogEntry struct {
	ID              int64
	ProjectKey      string
	StartDate       *time.Time
	EndDate         *time.Time
	IssuesExtracted int
	ExtractionTime  time.Time
}
