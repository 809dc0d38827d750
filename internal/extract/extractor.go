// Package extract drives the fetch -> normalize -> persist -> log pipeline
// for one Jira project.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agiledata/jirapull/internal/jira"
	"github.com/agiledata/jirapull/internal/types"
)

// DefaultPageSize is the search page size requested from Jira.
const DefaultPageSize = 100

// maxFetchAttempts bounds retries of a single page on transient errors.
// Exhausting it aborts the whole run; completed page batches stay committed
// but no log row is written.
const maxFetchAttempts = 3

// SearchClient is the slice of the Jira client the extractor needs.
type SearchClient interface {
	SearchPage(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]jira.RawIssue, int, error)
}

// Store is the slice of the persistence layer the extractor needs.
type Store interface {
	UpsertIssues(ctx context.Context, records []*types.IssueRecord) error
	AppendLog(ctx context.Context, entry *types.LogEntry) (int64, error)
	LastExtractionTime(ctx context.Context, projectKey string) (*time.Time, error)
}

// OptionsError reports an invalid combination of run parameters. It is
// returned before any network call is made.
type OptionsError struct {
	Reason string
}

func (e *OptionsError) Error() string {
	return "invalid extraction options: " + e.Reason
}

// Options selects what a run extracts. Incremental and an explicit date
// range are mutually exclusive.
type Options struct {
	ProjectKey  string
	StartDate   *time.Time
	EndDate     *time.Time
	Incremental bool
}

// Summary describes a completed run.
type Summary struct {
	ProjectKey      string
	JQL             string
	IssuesExtracted int
	Pages           int
	Elapsed         time.Duration
}

// Extractor composes the client, normalizer and store into one pipeline.
// Pages are fetched and committed in order on a single goroutine; the
// origin API rate-limits concurrent search calls.
type Extractor struct {
	client   SearchClient
	store    Store
	mapping  map[string]string
	fields   []string
	pageSize int
	log      zerolog.Logger

	// newBackoff is swapped in tests to avoid real sleeps.
	newBackoff func() backoff.BackOff
}

// New creates an extractor. mapping translates custom field IDs to display
// names; fields is the ordered field list to request (custom field IDs from
// the mapping are appended automatically).
func New(client SearchClient, store Store, mapping map[string]string, fields []string, log zerolog.Logger) *Extractor {
	requestFields := make([]string, 0, len(fields)+len(mapping))
	requestFields = append(requestFields, fields...)
	for id := range mapping {
		requestFields = append(requestFields, id)
	}

	return &Extractor{
		client:   client,
		store:    store,
		mapping:  mapping,
		fields:   requestFields,
		pageSize: DefaultPageSize,
		log:      log,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// Run executes one extraction and appends exactly one extraction_log row on
// success, even when zero issues matched. Each page batch commits in its own
// transaction, so an aborted run keeps the pages already written and leaves
// no log row behind; the missing row is what tells the next incremental run
// that this one did not finish.
func (e *Extractor) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.ProjectKey == "" {
		return nil, &OptionsError{Reason: "project key is required"}
	}
	if opts.Incremental && (opts.StartDate != nil || opts.EndDate != nil) {
		return nil, &OptionsError{Reason: "incremental mode cannot be combined with an explicit date range"}
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return nil, &OptionsError{Reason: "end date is before start date"}
	}

	var since *time.Time
	if opts.Incremental {
		t, err := e.store.LastExtractionTime(ctx, opts.ProjectKey)
		if err != nil {
			return nil, fmt.Errorf("determine incremental bound: %w", err)
		}
		// No prior completed run: fall back to a full extraction.
		since = t
	}

	jql := buildJQL(opts.ProjectKey, since, opts.StartDate, opts.EndDate)
	e.log.Info().Str("project", opts.ProjectKey).Str("jql", jql).Msg("starting extraction")

	started := time.Now()
	extractedAt := started.UTC()
	extracted := 0
	pages := 0
	startAt := 0

	for {
		raws, total, err := e.fetchPage(ctx, jql, startAt)
		if err != nil {
			return nil, err
		}
		if len(raws) == 0 {
			break
		}

		records := make([]*types.IssueRecord, 0, len(raws))
		for i := range raws {
			rec, err := jira.Normalize(&raws[i], e.mapping, extractedAt)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}

		if err := e.store.UpsertIssues(ctx, records); err != nil {
			return nil, fmt.Errorf("persist page at offset %d: %w", startAt, err)
		}

		extracted += len(records)
		pages++
		e.log.Info().Int("extracted", extracted).Int("total", total).Msg("extracted issues so far")

		// A short page is the authoritative terminal condition; the reported
		// total can drift between calls while issues are being created.
		if len(raws) < e.pageSize {
			break
		}
		startAt += len(raws)
		if startAt >= total {
			break
		}
	}

	entry := &types.LogEntry{
		ProjectKey:      opts.ProjectKey,
		StartDate:       opts.StartDate,
		EndDate:         opts.EndDate,
		IssuesExtracted: extracted,
		ExtractionTime:  time.Now().UTC(),
	}
	if _, err := e.store.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("record extraction run: %w", err)
	}

	return &Summary{
		ProjectKey:      opts.ProjectKey,
		JQL:             jql,
		IssuesExtracted: extracted,
		Pages:           pages,
		Elapsed:         time.Since(started),
	}, nil
}

// fetchPage fetches one page, retrying transient failures with exponential
// backoff up to maxFetchAttempts. Any other error class stops immediately.
func (e *Extractor) fetchPage(ctx context.Context, jql string, startAt int) ([]jira.RawIssue, int, error) {
	var issues []jira.RawIssue
	var total int

	bo := backoff.WithMaxRetries(e.newBackoff(), maxFetchAttempts-1)
	err := backoff.Retry(func() error {
		var err error
		issues, total, err = e.client.SearchPage(ctx, jql, startAt, e.pageSize, e.fields)
		if err == nil {
			return nil
		}
		var transient *jira.TransientError
		if errors.As(err, &transient) {
			e.log.Warn().Err(err).Int("start_at", startAt).Msg("transient fetch failure, retrying")
			return err
		}
		return backoff.Permanent(err) // Non-retryable - stop immediately
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page at offset %d: %w", startAt, err)
	}

	return issues, total, nil
}
