package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

// Fetch error kinds surfaced by the Fetcher.
const (
	FetchTimeout           FetchErrorKind = "timeout"
	FetchConnectionRefused FetchErrorKind = "connection_refused"
	FetchHTTPError         FetchErrorKind = "http_error"
	FetchDisallowed        FetchErrorKind = "disallowed"
)

// FetchError is a classified fetch failure.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPError {
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying. Timeouts,
// refused connections, 5xx responses and 429 are transient; everything
// else is permanent.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnectionRefused:
		return true
	case FetchHTTPError:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// ParseError marks malformed source content. The offending candidate is
// skipped and counted; the institution's run continues.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// ErrUnknownInstitution is a configuration error: the requested identifier
// has no registered scraper variant. It is fatal and never retried.
var ErrUnknownInstitution = errors.New("unknown institution")

// ErrorKind maps an error to the counter key used in RunSummary.Errors.
func ErrorKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Kind == FetchHTTPError {
			return fmt.Sprintf("http_%d", fe.StatusCode)
		}
		return string(fe.Kind)
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	if errors.Is(err, ErrUnknownInstitution) {
		return "unknown_institution"
	}
	return "other"
}
