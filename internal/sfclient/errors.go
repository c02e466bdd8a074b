package sfclient

import (
	"fmt"
	"strings"
)

// RemoteError is one element of the remote's structured 4xx error array
// ({message, errorCode, fields?}), per §4.2 and §7's RemoteValidation kind.
type RemoteError struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields,omitempty"`
}

// RemoteValidationError wraps a non-retriable 4xx response body, surfaced
// per-record by the push/pull coordinators rather than aborting the run.
type RemoteValidationError struct {
	StatusCode int
	Errors     []RemoteError
}

func (e RemoteValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, re := range e.Errors {
		msgs[i] = re.Message
	}
	return fmt.Sprintf("salesforce validation error (%d): %s", e.StatusCode, strings.Join(msgs, ", "))
}

// ServerError wraps a 5xx response that survived every retry attempt.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("salesforce server error (%d): %s", e.StatusCode, e.Body)
}

// ErrRateLimited indicates a 429 that survived every retry attempt (§7:
// RateLimited).
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited by salesforce after exhausting retries (retry-after %ds)", e.RetryAfterSeconds)
}

// ErrSessionExpired indicates a second consecutive 401 after a forced token
// refresh already happened once (§7: SessionExpired, §8 boundary behavior 10).
type ErrSessionExpired struct{}

func (e ErrSessionExpired) Error() string {
	return "salesforce session expired and token refresh did not resolve it"
}

// SchemaMismatchError wraps a response body that failed to decode into the
// expected shape (§7: SchemaMismatch) — non-retriable, surfaced as raw body.
type SchemaMismatchError struct {
	Body string
	Err  error
}

func (e SchemaMismatchError) Error() string {
	return fmt.Sprintf("failed to decode salesforce response: %v (body: %s)", e.Err, e.Body)
}

func (e SchemaMismatchError) Unwrap() error { return e.Err }
