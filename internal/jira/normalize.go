package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agiledata/jirapull/internal/types"
)

// namedField is the {"name": ...} shape Jira uses for statuses, priorities,
// issue types, components and versions.
type namedField struct {
	Name string `json:"name"`
}

type userField struct {
	DisplayName string `json:"displayName"`
}

type projectField struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Normalize converts a raw issue into a flat IssueRecord. Custom field IDs
// found in mapping are renamed to their display names; unmapped custom
// fields keep their raw ID as the key. Missing optional fields come out as
// nil, empty Jira arrays as empty slices. A non-empty date that does not
// parse fails the record with a NormalizationError.
func Normalize(raw *RawIssue, mapping map[string]string, extractedAt time.Time) (*types.IssueRecord, error) {
	rec := &types.IssueRecord{
		ID:          raw.ID,
		Key:         raw.Key,
		ExtractedAt: extractedAt,
	}

	if p := decodeProject(raw.Fields["project"]); p != nil {
		rec.ProjectKey = p.Key
		rec.ProjectName = p.Name
	}
	rec.IssueType = decodeNamed(raw.Fields["issuetype"])
	rec.Status = decodeNamed(raw.Fields["status"])
	if p := decodeNamed(raw.Fields["priority"]); p != "" {
		rec.Priority = &p
	}
	rec.Summary = decodeString(raw.Fields["summary"])
	rec.Description = decodeStringPtr(raw.Fields["description"])
	rec.Assignee = decodeUser(raw.Fields["assignee"])
	rec.Reporter = decodeUser(raw.Fields["reporter"])

	var err error
	if rec.Created, err = decodeTime(raw, "created"); err != nil {
		return nil, err
	}
	if rec.Updated, err = decodeTime(raw, "updated"); err != nil {
		return nil, err
	}
	if rec.Resolved, err = decodeTime(raw, "resolutiondate"); err != nil {
		return nil, err
	}
	if rec.DueDate, err = decodeTime(raw, "duedate"); err != nil {
		return nil, err
	}

	rec.Labels = decodeStrings(raw.Fields["labels"])
	rec.Components = decodeNames(raw.Fields["components"])
	rec.FixVersions = decodeNames(raw.Fields["fixVersions"])
	rec.AffectsVersions = decodeNames(raw.Fields["versions"])

	rec.CustomFields = decodeCustomFields(raw.Fields, mapping)

	return rec, nil
}

// decodeCustomFields collects every customfield_* entry, renaming mapped IDs
// to their configured display names. JSON nulls are skipped: an unset custom
// field is absence, not a value.
func decodeCustomFields(fields map[string]json.RawMessage, mapping map[string]string) map[string]interface{} {
	var custom map[string]interface{}
	for id, raw := range fields {
		if !strings.HasPrefix(id, "customfield_") {
			continue
		}
		if isNull(raw) {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			// Custom field payloads are free-form; keep the raw text rather
			// than failing the record over a field we do not interpret.
			value = string(raw)
		}
		name := id
		if display, ok := mapping[id]; ok {
			name = display
		}
		if custom == nil {
			custom = make(map[string]interface{})
		}
		custom[name] = value
	}
	return custom
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeStringPtr(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func decodeNamed(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var f namedField
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	return f.Name
}

func decodeUser(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var u userField
	if err := json.Unmarshal(raw, &u); err != nil || u.DisplayName == "" {
		return nil
	}
	return &u.DisplayName
}

func decodeProject(raw json.RawMessage) *projectField {
	if isNull(raw) {
		return nil
	}
	var p projectField
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// decodeStrings decodes a JSON string array. A present-but-empty array and a
// missing field both come out as an empty slice, never nil.
func decodeStrings(raw json.RawMessage) []string {
	out := []string{}
	if isNull(raw) {
		return out
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return out
	}
	return append(out, values...)
}

// decodeNames extracts the ordered name attributes of an array of named
// objects (components, versions).
func decodeNames(raw json.RawMessage) []string {
	out := []string{}
	if isNull(raw) {
		return out
	}
	var values []namedField
	if err := json.Unmarshal(raw, &values); err != nil {
		return out
	}
	for _, v := range values {
		out = append(out, v.Name)
	}
	return out
}

// decodeTime parses a timestamp field. Missing or null is nil; a non-empty
// value that does not parse is a hard error for the whole record.
func decodeTime(raw *RawIssue, field string) (*time.Time, error) {
	msg, ok := raw.Fields[field]
	if !ok || isNull(msg) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return nil, &NormalizationError{IssueKey: raw.Key, Field: field, Err: fmt.Errorf("expected string timestamp: %w", err)}
	}
	if s == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, &NormalizationError{IssueKey: raw.Key, Field: field, Err: err}
	}
	return &t, nil
}
