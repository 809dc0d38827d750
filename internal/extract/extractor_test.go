package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agiledata/jirapull/internal/jira"
	"github.com/agiledata/jirapull/internal/types"
)

// fakeClient serves scripted pages and records every call.
type fakeClient struct {
	pages [][]jira.RawIssue
	total int

	calls    int
	lastJQL  string
	failures map[int]error // call index (0-based) -> injected error
}

func (f *fakeClient) SearchPage(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]jira.RawIssue, int, error) {
	call := f.calls
	f.calls++
	f.lastJQL = jql

	if err, ok := f.failures[call]; ok {
		delete(f.failures, call)
		return nil, 0, err
	}

	served := 0
	for _, page := range f.pages {
		if startAt == served {
			return page, f.total, nil
		}
		served += len(page)
	}
	return nil, f.total, nil
}

// fakeStore accumulates writes in memory.
type fakeStore struct {
	batches  [][]*types.IssueRecord
	logs     []*types.LogEntry
	lastTime *time.Time

	upsertErr error
}

func (f *fakeStore) UpsertIssues(ctx context.Context, records []*types.IssueRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeStore) AppendLog(ctx context.Context, entry *types.LogEntry) (int64, error) {
	f.logs = append(f.logs, entry)
	return int64(len(f.logs)), nil
}

func (f *fakeStore) LastExtractionTime(ctx context.Context, projectKey string) (*time.Time, error) {
	return f.lastTime, nil
}

func makePage(start, n int) []jira.RawIssue {
	page := make([]jira.RawIssue, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("PROJ-%d", start+i)
		page = append(page, jira.RawIssue{
			ID:  fmt.Sprintf("%d", 1000+start+i),
			Key: key,
			Fields: map[string]json.RawMessage{
				"summary": json.RawMessage(fmt.Sprintf("%q", "issue "+key)),
				"status":  json.RawMessage(`{"name": "Open"}`),
			},
		})
	}
	return page
}

func newTestExtractor(client SearchClient, store Store) *Extractor {
	e := New(client, store, nil, []string{"summary", "status"}, zerolog.Nop())
	e.newBackoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return e
}

func TestRunPaginatesUntilShortPage(t *testing.T) {
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 100), makePage(100, 100), makePage(200, 37)},
		total: 237,
	}
	store := &fakeStore{}

	summary, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.IssuesExtracted != 237 {
		t.Errorf("IssuesExtracted = %d, want 237", summary.IssuesExtracted)
	}
	if summary.Pages != 3 {
		t.Errorf("Pages = %d, want 3", summary.Pages)
	}
	if client.calls != 3 {
		t.Errorf("adapter calls = %d, want 3 (termination must detect the short third page)", client.calls)
	}
	if len(store.batches) != 3 {
		t.Fatalf("batches = %d, want 3 (one transaction per page)", len(store.batches))
	}
	got := 0
	for _, b := range store.batches {
		got += len(b)
	}
	if got != 237 {
		t.Errorf("stored records = %d, want 237", got)
	}
	if len(store.logs) != 1 {
		t.Fatalf("log rows = %d, want exactly 1", len(store.logs))
	}
	if store.logs[0].IssuesExtracted != 237 || store.logs[0].ProjectKey != "PROJ" {
		t.Errorf("log entry = %+v", store.logs[0])
	}
}

// An over-reported total must not keep the driver looping: the short page
// is the authoritative terminal condition.
func TestRunShortPageBeatsInflatedTotal(t *testing.T) {
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 100), makePage(100, 37)},
		total: 500, // server over-reports
	}
	store := &fakeStore{}

	summary, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.IssuesExtracted != 137 {
		t.Errorf("IssuesExtracted = %d, want 137", summary.IssuesExtracted)
	}
	if client.calls != 2 {
		t.Errorf("adapter calls = %d, want 2 (short second page terminates)", client.calls)
	}
}

// An under-reported total still terminates the loop once the offset passes
// it; the driver never spins on a disagreeing server.
func TestRunStopsAtReportedTotal(t *testing.T) {
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 100), makePage(100, 100), makePage(200, 10)},
		total: 150,
	}
	store := &fakeStore{}

	summary, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.IssuesExtracted != 200 {
		t.Errorf("IssuesExtracted = %d, want 200", summary.IssuesExtracted)
	}
	if client.calls != 2 {
		t.Errorf("adapter calls = %d, want 2", client.calls)
	}
}

func TestRunEmptyProject(t *testing.T) {
	client := &fakeClient{pages: nil, total: 0}
	store := &fakeStore{}

	summary, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.IssuesExtracted != 0 {
		t.Errorf("IssuesExtracted = %d, want 0", summary.IssuesExtracted)
	}
	// Zero-issue runs still append exactly one log row.
	if len(store.logs) != 1 {
		t.Fatalf("log rows = %d, want 1", len(store.logs))
	}
	if store.logs[0].IssuesExtracted != 0 {
		t.Errorf("logged count = %d, want 0", store.logs[0].IssuesExtracted)
	}
}

func TestRunMutualExclusion(t *testing.T) {
	client := &fakeClient{}
	store := &fakeStore{}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := newTestExtractor(client, store).Run(context.Background(), Options{
		ProjectKey:  "PROJ",
		Incremental: true,
		StartDate:   &start,
	})

	var optsErr *OptionsError
	if !errors.As(err, &optsErr) {
		t.Fatalf("want OptionsError, got %T: %v", err, err)
	}
	if client.calls != 0 {
		t.Errorf("adapter calls = %d, want 0 (must fail before any network call)", client.calls)
	}
	if len(store.logs) != 0 {
		t.Errorf("log rows = %d, want 0", len(store.logs))
	}
}

func TestRunIncrementalFilter(t *testing.T) {
	last := time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
	client := &fakeClient{pages: [][]jira.RawIssue{makePage(0, 2)}, total: 2}
	store := &fakeStore{lastTime: &last}

	if _, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ", Incremental: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := `project = "PROJ" AND updated >= "2024-06-01 14:30"`
	if client.lastJQL != want {
		t.Errorf("jql = %q, want %q", client.lastJQL, want)
	}
}

// With no prior log entry, an incremental run falls back to a full
// extraction with no date filter.
func TestRunIncrementalWithoutPriorRun(t *testing.T) {
	client := &fakeClient{pages: [][]jira.RawIssue{makePage(0, 2)}, total: 2}
	store := &fakeStore{lastTime: nil}

	if _, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ", Incremental: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if client.lastJQL != `project = "PROJ"` {
		t.Errorf("jql = %q, want plain project filter", client.lastJQL)
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 3)},
		total: 3,
		failures: map[int]error{
			0: &jira.TransientError{StatusCode: 503, Err: errors.New("unavailable")},
			1: &jira.TransientError{StatusCode: 503, Err: errors.New("unavailable")},
		},
	}
	store := &fakeStore{}

	summary, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Run should survive two transient failures: %v", err)
	}
	if summary.IssuesExtracted != 3 {
		t.Errorf("IssuesExtracted = %d, want 3", summary.IssuesExtracted)
	}
	if client.calls != 3 {
		t.Errorf("adapter calls = %d, want 3 (two failures plus success)", client.calls)
	}
}

func TestRunAbortsAfterRetryExhaustion(t *testing.T) {
	transient := &jira.TransientError{StatusCode: 503, Err: errors.New("unavailable")}
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 3)},
		total: 3,
		failures: map[int]error{
			0: transient, 1: transient, 2: transient,
		},
	}
	store := &fakeStore{}

	_, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	var trErr *jira.TransientError
	if !errors.As(err, &trErr) {
		t.Fatalf("want surfaced TransientError, got %T: %v", err, err)
	}
	if client.calls != maxFetchAttempts {
		t.Errorf("adapter calls = %d, want %d", client.calls, maxFetchAttempts)
	}
	// Aborted run leaves no log row behind.
	if len(store.logs) != 0 {
		t.Errorf("log rows = %d, want 0", len(store.logs))
	}
}

// Fatal error classes stop immediately without retries.
func TestRunDoesNotRetryFatalErrors(t *testing.T) {
	client := &fakeClient{
		pages: [][]jira.RawIssue{makePage(0, 3)},
		total: 3,
		failures: map[int]error{
			0: &jira.AuthError{StatusCode: 401},
		},
	}
	store := &fakeStore{}

	_, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	var authErr *jira.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("want AuthError, got %T: %v", err, err)
	}
	if client.calls != 1 {
		t.Errorf("adapter calls = %d, want 1 (no retry on auth failure)", client.calls)
	}
}

func TestRunNormalizationFailureAborts(t *testing.T) {
	bad := jira.RawIssue{
		ID:  "1",
		Key: "PROJ-1",
		Fields: map[string]json.RawMessage{
			"created": json.RawMessage(`"not-a-date"`),
		},
	}
	client := &fakeClient{pages: [][]jira.RawIssue{{bad}}, total: 1}
	store := &fakeStore{}

	_, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	var normErr *jira.NormalizationError
	if !errors.As(err, &normErr) {
		t.Fatalf("want NormalizationError, got %T: %v", err, err)
	}
	if len(store.batches) != 0 {
		t.Errorf("no batch should be committed for the failing page")
	}
	if len(store.logs) != 0 {
		t.Errorf("log rows = %d, want 0", len(store.logs))
	}
}

func TestRunPersistFailureAborts(t *testing.T) {
	client := &fakeClient{pages: [][]jira.RawIssue{makePage(0, 2)}, total: 2}
	store := &fakeStore{upsertErr: errors.New("disk full")}

	_, err := newTestExtractor(client, store).Run(context.Background(), Options{ProjectKey: "PROJ"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.logs) != 0 {
		t.Errorf("log rows = %d, want 0", len(store.logs))
	}
}

func TestRunRequiresProject(t *testing.T) {
	_, err := newTestExtractor(&fakeClient{}, &fakeStore{}).Run(context.Background(), Options{})
	var optsErr *OptionsError
	if !errors.As(err, &optsErr) {
		t.Fatalf("want OptionsError, got %T: %v", err, err)
	}
}

func TestRunRejectsInvertedDateRange(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := newTestExtractor(&fakeClient{}, &fakeStore{}).Run(context.Background(), Options{
		ProjectKey: "PROJ",
		StartDate:  &start,
		EndDate:    &end,
	})
	var optsErr *OptionsError
	if !errors.As(err, &optsErr) {
		t.Fatalf("want OptionsError, got %T: %v", err, err)
	}
}
