package tasks

import (
	"fmt"
)

type FetchErrorKind string

const (
	FetchErrorNetwork    FetchErrorKind = "network"
	FetchErrorHTTPStatus FetchErrorKind = "http_status"
	FetchErrorParse      FetchErrorKind = "parse_failure"
)

// FetchError describes why a fetch cycle produced no result.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int // set for FetchErrorHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchErrorHTTPStatus:
		return fmt.Sprintf("fetch %s: HTTP error: %d", e.URL, e.StatusCode)
	case FetchErrorParse:
		return fmt.Sprintf("fetch %s: failed to parse feed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
