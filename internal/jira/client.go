// Package jira provides the HTTP client and field normalization for a Jira
// Server REST API v2 instance.
package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MaxPageSize is the server-side cap on maxResults for the search endpoint.
const MaxPageSize = 100

// DefaultTimeout is the per-request HTTP timeout when none is configured.
const DefaultTimeout = 30 * time.Second

// RawIssue is a Jira issue as returned by the search endpoint. Fields is
// kept as raw JSON because the requested field set is configurable and
// custom fields carry arbitrary shapes; the normalizer decodes each field
// exactly once.
type RawIssue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// SearchResult is a page of a Jira JQL search response.
type SearchResult struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []RawIssue `json:"issues"`
}

// Project identifies a Jira project.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ServerInfo describes the Jira instance we are talking to.
type ServerInfo struct {
	Version     string `json:"version"`
	ServerTitle string `json:"serverTitle"`
}

// Client provides authenticated HTTP access to a Jira Server instance.
// Authentication is chosen once at construction: a bearer token (PAT) when
// Token is set, basic credentials otherwise. The two are never mixed within
// a run.
type Client struct {
	URL        string
	Token      string
	Username   string
	Password   string
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// NewClient creates a Jira client. Either token or username/password must
// be provided.
func NewClient(baseURL, token, username, password string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if token == "" && (username == "" || password == "") {
		return nil, fmt.Errorf("either a token or username and password must be provided")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		URL:      strings.TrimSuffix(baseURL, "/"),
		Token:    token,
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Log: log,
	}, nil
}

// AuthMethod reports which authentication scheme the client uses.
func (c *Client) AuthMethod() string {
	if c.Token != "" {
		return "PAT"
	}
	return "Basic"
}

// SearchPage issues one search call and returns the raw issues of that page
// together with the server-reported total match count. startAt must be >= 0;
// maxResults is clamped to MaxPageSize.
func (c *Client) SearchPage(ctx context.Context, jql string, startAt, maxResults int, fields []string) ([]RawIssue, int, error) {
	if startAt < 0 {
		return nil, 0, fmt.Errorf("startAt must be >= 0, got %d", startAt)
	}
	if maxResults <= 0 || maxResults > MaxPageSize {
		maxResults = MaxPageSize
	}

	params := url.Values{
		"jql":        {jql},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}

	apiURL := fmt.Sprintf("%s/rest/api/2/search?%s", c.URL, params.Encode())

	body, err := c.doRequest(ctx, apiURL)
	if err != nil {
		return nil, 0, err
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, 0, &ProtocolError{Err: fmt.Errorf("parse search response: %w", err)}
	}

	c.Log.Debug().
		Int("start_at", startAt).
		Int("returned", len(result.Issues)).
		Int("total", result.Total).
		Msg("fetched search page")

	return result.Issues, result.Total, nil
}

// Info fetches server metadata. Used as a connection and credentials check
// before an extraction starts.
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	body, err := c.doRequest(ctx, c.URL+"/rest/api/2/serverInfo")
	if err != nil {
		return nil, err
	}

	var info ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("parse serverInfo response: %w", err)}
	}
	return &info, nil
}

// Projects lists the projects visible to the authenticated user.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	body, err := c.doRequest(ctx, c.URL+"/rest/api/2/project")
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("parse project response: %w", err)}
	}
	return projects, nil
}

// CustomFields returns a mapping of custom field ID to display name,
// e.g. "customfield_10001" -> "Story Points".
func (c *Client) CustomFields(ctx context.Context) (map[string]string, error) {
	body, err := c.doRequest(ctx, c.URL+"/rest/api/2/field")
	if err != nil {
		return nil, err
	}

	var fields []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Custom bool   `json:"custom"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("parse field response: %w", err)}
	}

	custom := make(map[string]string)
	for _, f := range fields {
		if f.Custom {
			custom[f.ID] = f.Name
		}
	}
	return custom, nil
}

// doRequest executes an authenticated GET and returns the response body,
// mapping failure classes onto the typed errors of this package.
func (c *Client) doRequest(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "jirapull")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Context cancellation is not a server hiccup; surface it as-is.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: trimBody(respBody)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{URL: apiURL, Body: trimBody(respBody)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned %d: %s", resp.StatusCode, trimBody(respBody)),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &ProtocolError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, trimBody(respBody))}
	}

	return respBody, nil
}

// setAuth sets the authentication header selected at construction.
func (c *Client) setAuth(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
		return
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	req.Header.Set("Authorization", "Basic "+auth)
}

// trimBody truncates an error response body so it stays readable in logs.
func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	const max = 300
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
