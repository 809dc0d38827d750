package jira

import "fmt"

// AuthError indicates the server rejected the supplied credentials (401/403).
// Not retryable; the user has to fix the token or username/password.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("jira authentication failed (HTTP %d): %s", e.StatusCode, e.Body)
}

// NotFoundError indicates a 404 response, usually a bad project key or a
// wrong base URL.
type NotFoundError struct {
	URL  string
	Body string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("jira resource not found: %s", e.URL)
}

// TransientError wraps failures that are worth retrying: 429, 5xx responses,
// network errors, and timeouts.
type TransientError struct {
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jira transient failure (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("jira transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError indicates the server answered with a body we could not
// decode. Not retryable; it usually means the response shape changed.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jira protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NormalizationError indicates a raw issue could not be converted into an
// IssueRecord. The whole run is aborted on the first one: partially mangled
// data is worse than a visible failure.
type NormalizationError struct {
	IssueKey string
	Field    string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize issue %s: field %q: %v", e.IssueKey, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }
