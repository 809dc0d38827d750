// Package sqlite implements the persistence layer on an embedded SQLite
// database file. It is the sole writer of the issues and extraction_log
// tables; the analytics dashboard reads the same file read-only.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agiledata/jirapull/internal/types"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

// Store is the single-writer handle on the database file.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// driver does not pay its JIT compilation cost on every process start.
// Falls back to an in-memory cache when the user cache dir is unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "jirapull", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (creating if needed) the database at path and ensures the
// schema exists. Schema creation is idempotent: existing tables are never
// dropped or altered. Use ":memory:" for an in-memory database in tests.
func New(path string) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		// Shared in-memory database; WAL does not work in memory mode.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// In-memory databases are isolated per connection; force a single
	// connection so every query sees the same data.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	absPath := path
	if path != ":memory:" {
		if absPath, err = filepath.Abs(path); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}

	return &Store{db: db, dbPath: absPath}, nil
}

// Path returns the absolute path of the database file.
func (s *Store) Path() string { return s.dbPath }

// Close releases the database handle. Safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

const upsertIssueSQL = `
INSERT INTO issues (
    id, key, project_key, project_name, issue_type, status, priority,
    summary, description, assignee, reporter, created, updated, resolved,
    due_date, labels, components, fix_versions, affects_versions,
    custom_fields, extracted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    id = excluded.id,
    project_key = excluded.project_key,
    project_name = excluded.project_name,
    issue_type = excluded.issue_type,
    status = excluded.status,
    priority = excluded.priority,
    summary = excluded.summary,
    description = excluded.description,
    assignee = excluded.assignee,
    reporter = excluded.reporter,
    created = excluded.created,
    updated = excluded.updated,
    resolved = excluded.resolved,
    due_date = excluded.due_date,
    labels = excluded.labels,
    components = excluded.components,
    fix_versions = excluded.fix_versions,
    affects_versions = excluded.affects_versions,
    custom_fields = excluded.custom_fields,
    extracted_at = excluded.extracted_at`

// UpsertIssues writes a batch of records inside a single transaction:
// a crash mid-batch leaves the prior state intact. Re-extraction of an
// existing key replaces the row, it never duplicates.
func (s *Store) UpsertIssues(ctx context.Context, records []*types.IssueRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertIssueSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		customFields, err := marshalCustomFields(rec.CustomFields)
		if err != nil {
			return fmt.Errorf("encode custom fields for %s: %w", rec.Key, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.Key, rec.ProjectKey, rec.ProjectName, rec.IssueType,
			rec.Status, rec.Priority, rec.Summary, rec.Description,
			rec.Assignee, rec.Reporter, rec.Created, rec.Updated,
			rec.Resolved, rec.DueDate,
			marshalStrings(rec.Labels), marshalStrings(rec.Components),
			marshalStrings(rec.FixVersions), marshalStrings(rec.AffectsVersions),
			customFields, rec.ExtractedAt.UTC(),
		); err != nil {
			return fmt.Errorf("upsert issue %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// AppendLog inserts one audit row in its own transaction and returns the
// assigned id. The log is insert-only; nothing ever updates or deletes it.
func (s *Store) AppendLog(ctx context.Context, entry *types.LogEntry) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_log (project_key, start_date, end_date, issues_extracted, extraction_time)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ProjectKey, entry.StartDate, entry.EndDate,
		entry.IssuesExtracted, entry.ExtractionTime.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("append extraction log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("extraction log id: %w", err)
	}
	return id, nil
}

// LastExtractionTime returns the most recent logged extraction_time for the
// project, or nil when the project has never been extracted.
func (s *Store) LastExtractionTime(ctx context.Context, projectKey string) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(extraction_time) FROM extraction_log WHERE project_key = ?`,
		projectKey,
	).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("query last extraction: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

// IssueCount returns the number of stored issues, optionally scoped to one
// project.
func (s *Store) IssueCount(ctx context.Context, projectKey string) (int, error) {
	query := `SELECT COUNT(*) FROM issues`
	args := []interface{}{}
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

// GroupCount is one bucket of an aggregate query.
type GroupCount struct {
	Value string
	Count int
}

// issueGroupColumns are the columns CountBy accepts. Grouping column names
// reach SQL text directly, so they are allowlisted.
var issueGroupColumns = map[string]bool{
	"status":     true,
	"issue_type": true,
	"priority":   true,
	"assignee":   true,
}

// CountBy returns issue counts grouped by the given column, largest bucket
// first. NULL values group under the empty string.
func (s *Store) CountBy(ctx context.Context, column, projectKey string) ([]GroupCount, error) {
	if !issueGroupColumns[column] {
		return nil, fmt.Errorf("unsupported grouping column: %s", column)
	}

	query := fmt.Sprintf(`SELECT COALESCE(%s, ''), COUNT(*) FROM issues`, column)
	args := []interface{}{}
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	query += fmt.Sprintf(` GROUP BY COALESCE(%s, '') ORDER BY COUNT(*) DESC, 1`, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	var counts []GroupCount
	for rows.Next() {
		var gc GroupCount
		if err := rows.Scan(&gc.Value, &gc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, gc)
	}
	return counts, rows.Err()
}

// RecentLogs returns up to limit extraction log entries, newest first.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]*types.LogEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_key, start_date, end_date, issues_extracted, extraction_time
		 FROM extraction_log ORDER BY extraction_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query extraction log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.LogEntry
	for rows.Next() {
		var e types.LogEntry
		var start, end sql.NullTime
		if err := rows.Scan(&e.ID, &e.ProjectKey, &start, &end, &e.IssuesExtracted, &e.ExtractionTime); err != nil {
			return nil, err
		}
		if start.Valid {
			e.StartDate = &start.Time
		}
		if end.Valid {
			e.EndDate = &end.Time
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetIssue reads one stored issue by key. Returns nil when absent.
func (s *Store) GetIssue(ctx context.Context, key string) (*types.IssueRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key, project_key, project_name, issue_type, status, priority,
		        summary, description, assignee, reporter, created, updated,
		        resolved, due_date, labels, components, fix_versions,
		        affects_versions, custom_fields, extracted_at
		 FROM issues WHERE key = ?`, key)

	var rec types.IssueRecord
	var priority, description, assignee, reporter, customFields sql.NullString
	var created, updated, resolved, dueDate sql.NullTime
	var labels, components, fixVersions, affectsVersions string
	err := row.Scan(&rec.ID, &rec.Key, &rec.ProjectKey, &rec.ProjectName,
		&rec.IssueType, &rec.Status, &priority, &rec.Summary, &description,
		&assignee, &reporter, &created, &updated, &resolved, &dueDate,
		&labels, &components, &fixVersions, &affectsVersions,
		&customFields, &rec.ExtractedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	rec.Priority = nullableString(priority)
	rec.Description = nullableString(description)
	rec.Assignee = nullableString(assignee)
	rec.Reporter = nullableString(reporter)
	rec.Created = nullableTime(created)
	rec.Updated = nullableTime(updated)
	rec.Resolved = nullableTime(resolved)
	rec.DueDate = nullableTime(dueDate)
	if rec.Labels, err = unmarshalStrings(labels); err != nil {
		return nil, fmt.Errorf("decode labels for %s: %w", key, err)
	}
	if rec.Components, err = unmarshalStrings(components); err != nil {
		return nil, fmt.Errorf("decode components for %s: %w", key, err)
	}
	if rec.FixVersions, err = unmarshalStrings(fixVersions); err != nil {
		return nil, fmt.Errorf("decode fix_versions for %s: %w", key, err)
	}
	if rec.AffectsVersions, err = unmarshalStrings(affectsVersions); err != nil {
		return nil, fmt.Errorf("decode affects_versions for %s: %w", key, err)
	}
	if customFields.Valid && customFields.String != "" {
		if err := json.Unmarshal([]byte(customFields.String), &rec.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom_fields for %s: %w", key, err)
		}
	}
	return &rec, nil
}

// marshalStrings JSON-encodes a string slice for storage. Nil and empty both
// encode as "[]" so the array columns never hold NULL.
func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		// A []string cannot fail to marshal.
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(data string) ([]string, error) {
	out := []string{}
	if strings.TrimSpace(data) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// marshalCustomFields serializes the custom field mapping, NULL when empty
// to match how absent custom data is queried downstream.
func marshalCustomFields(fields map[string]interface{}) (interface{}, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
