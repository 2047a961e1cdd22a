package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrCityNotFound is returned when no geocoder produced a match.
	ErrCityNotFound = errors.New("city not found")
	// ErrUpstreamTransport marks network, timeout and 5xx failures talking to a provider.
	ErrUpstreamTransport = errors.New("upstream transport failure")
	// ErrFetchFailed marks a forecast that could not be obtained for a scheduled delivery.
	ErrFetchFailed = errors.New("forecast fetch failed")
	// ErrNoProviders is returned by services constructed without providers.
	ErrNoProviders = errors.New("no weather providers configured")
)

// UpstreamError wraps a transport-level failure of a named provider.
// errors.Is(err, ErrUpstreamTransport) holds for every UpstreamError.
type UpstreamError struct {
	Provider string
	Op       string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamTransport, e.Err}
}
