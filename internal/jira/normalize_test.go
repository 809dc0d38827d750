package jira

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func rawIssueFromJSON(t *testing.T, data string) *RawIssue {
	t.Helper()
	var raw RawIssue
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatalf("unmarshal test issue: %v", err)
	}
	return &raw
}

func TestNormalizeFullIssue(t *testing.T) {
	raw := rawIssueFromJSON(t, `{
		"id": "1001",
		"key": "PROJ-1",
		"fields": {
			"summary": "Fix login timeout",
			"description": "Sessions expire too early",
			"project": {"key": "PROJ", "name": "Project One"},
			"issuetype": {"name": "Bug"},
			"status": {"name": "In Progress"},
			"priority": {"name": "High"},
			"assignee": {"displayName": "Alice Smith"},
			"reporter": {"displayName": "Bob Jones"},
			"created": "2024-01-15T10:30:00.000+0000",
			"updated": "2024-02-01T08:00:00.000+0000",
			"resolutiondate": null,
			"duedate": "2024-03-01",
			"labels": ["backend", "auth"],
			"components": [{"name": "server"}, {"name": "session"}],
			"fixVersions": [{"name": "2.1.0"}],
			"versions": [{"name": "2.0.0"}]
		}
	}`)

	extractedAt := time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC)
	rec, err := Normalize(raw, nil, extractedAt)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if rec.ID != "1001" || rec.Key != "PROJ-1" {
		t.Errorf("ID/Key = %q/%q", rec.ID, rec.Key)
	}
	if rec.ProjectKey != "PROJ" || rec.ProjectName != "Project One" {
		t.Errorf("project = %q/%q", rec.ProjectKey, rec.ProjectName)
	}
	if rec.IssueType != "Bug" || rec.Status != "In Progress" {
		t.Errorf("type/status = %q/%q", rec.IssueType, rec.Status)
	}
	if rec.Priority == nil || *rec.Priority != "High" {
		t.Errorf("Priority = %v", rec.Priority)
	}
	if rec.Assignee == nil || *rec.Assignee != "Alice Smith" {
		t.Errorf("Assignee = %v", rec.Assignee)
	}
	if rec.Reporter == nil || *rec.Reporter != "Bob Jones" {
		t.Errorf("Reporter = %v", rec.Reporter)
	}
	if rec.Created == nil || !rec.Created.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("Created = %v", rec.Created)
	}
	if rec.Resolved != nil {
		t.Errorf("Resolved = %v, want nil", rec.Resolved)
	}
	if rec.DueDate == nil || !rec.DueDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DueDate = %v", rec.DueDate)
	}
	if !reflect.DeepEqual(rec.Labels, []string{"backend", "auth"}) {
		t.Errorf("Labels = %v", rec.Labels)
	}
	if !reflect.DeepEqual(rec.Components, []string{"server", "session"}) {
		t.Errorf("Components = %v", rec.Components)
	}
	if !reflect.DeepEqual(rec.FixVersions, []string{"2.1.0"}) {
		t.Errorf("FixVersions = %v", rec.FixVersions)
	}
	if !reflect.DeepEqual(rec.AffectsVersions, []string{"2.0.0"}) {
		t.Errorf("AffectsVersions = %v", rec.AffectsVersions)
	}
	if !rec.ExtractedAt.Equal(extractedAt) {
		t.Errorf("ExtractedAt = %v", rec.ExtractedAt)
	}
}

// A raw issue missing every optional field must normalize without error:
// nils for scalars, empty slices (not nil) for arrays.
func TestNormalizeMinimalIssue(t *testing.T) {
	raw := rawIssueFromJSON(t, `{"id": "42", "key": "PROJ-42", "fields": {}}`)

	rec, err := Normalize(raw, nil, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if rec.Priority != nil || rec.Description != nil || rec.Assignee != nil || rec.Reporter != nil {
		t.Errorf("optional scalars should be nil: %+v", rec)
	}
	if rec.Created != nil || rec.Updated != nil || rec.Resolved != nil || rec.DueDate != nil {
		t.Errorf("optional timestamps should be nil: %+v", rec)
	}
	for name, arr := range map[string][]string{
		"Labels":          rec.Labels,
		"Components":      rec.Components,
		"FixVersions":     rec.FixVersions,
		"AffectsVersions": rec.AffectsVersions,
	} {
		if arr == nil {
			t.Errorf("%s is nil, want empty slice", name)
		}
		if len(arr) != 0 {
			t.Errorf("%s = %v, want empty", name, arr)
		}
	}
	if rec.CustomFields != nil {
		t.Errorf("CustomFields = %v, want nil", rec.CustomFields)
	}
}

func TestNormalizeCustomFieldMapping(t *testing.T) {
	raw := rawIssueFromJSON(t, `{
		"id": "1001",
		"key": "PROJ-1",
		"fields": {
			"summary": "Fix bug",
			"status": {"name": "Open"},
			"labels": [],
			"customfield_10001": 5
		}
	}`)

	rec, err := Normalize(raw, map[string]string{"customfield_10001": "Story Points"}, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if len(rec.Labels) != 0 || rec.Labels == nil {
		t.Errorf("Labels = %v, want empty slice", rec.Labels)
	}
	if rec.Status != "Open" || rec.Summary != "Fix bug" {
		t.Errorf("status/summary = %q/%q", rec.Status, rec.Summary)
	}
	points, ok := rec.CustomFields["Story Points"]
	if !ok {
		t.Fatalf("CustomFields = %v, want Story Points entry", rec.CustomFields)
	}
	if points != float64(5) {
		t.Errorf("Story Points = %v (%T), want 5", points, points)
	}
}

// Unmapped custom fields pass through under their raw ID.
func TestNormalizeUnmappedCustomField(t *testing.T) {
	raw := rawIssueFromJSON(t, `{
		"id": "1",
		"key": "PROJ-1",
		"fields": {
			"customfield_10001": 5,
			"customfield_20002": "team-alpha",
			"customfield_30003": null
		}
	}`)

	rec, err := Normalize(raw, map[string]string{"customfield_10001": "Story Points"}, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if rec.CustomFields["Story Points"] != float64(5) {
		t.Errorf("Story Points = %v", rec.CustomFields["Story Points"])
	}
	if rec.CustomFields["customfield_20002"] != "team-alpha" {
		t.Errorf("customfield_20002 = %v", rec.CustomFields["customfield_20002"])
	}
	if _, ok := rec.CustomFields["customfield_30003"]; ok {
		t.Error("null custom field should be skipped")
	}
}

func TestNormalizeMalformedDate(t *testing.T) {
	for _, field := range []string{"created", "updated", "resolutiondate", "duedate"} {
		t.Run(field, func(t *testing.T) {
			raw := rawIssueFromJSON(t, `{"id": "1", "key": "PROJ-1", "fields": {"`+field+`": "not-a-date"}}`)

			_, err := Normalize(raw, nil, time.Now())
			var normErr *NormalizationError
			if !errors.As(err, &normErr) {
				t.Fatalf("want NormalizationError, got %T: %v", err, err)
			}
			if normErr.IssueKey != "PROJ-1" || normErr.Field != field {
				t.Errorf("error identifies %q/%q, want PROJ-1/%s", normErr.IssueKey, normErr.Field, field)
			}
		})
	}
}
