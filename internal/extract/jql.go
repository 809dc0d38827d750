package extract

import (
	"fmt"
	"strings"
	"time"
)

// jqlTimeFormat is the minute-precision format Jira accepts for timestamp
// comparisons in JQL.
const jqlTimeFormat = "2006-01-02 15:04"

// jqlDateFormat is the day-precision format for created-date range filters.
const jqlDateFormat = "2006-01-02"

// buildJQL assembles the filter for a run. since is the updated-since bound
// of an incremental run (nil means full extraction); start/end bound the
// creation date range inclusively.
func buildJQL(projectKey string, since, start, end *time.Time) string {
	parts := []string{fmt.Sprintf("project = %q", projectKey)}

	if since != nil {
		parts = append(parts, fmt.Sprintf("updated >= %q", since.Format(jqlTimeFormat)))
	}
	if start != nil {
		parts = append(parts, fmt.Sprintf("created >= %q", start.Format(jqlDateFormat)))
	}
	if end != nil {
		parts = append(parts, fmt.Sprintf("created <= %q", end.Format(jqlDateFormat)))
	}

	return strings.Join(parts, " AND ")
}
