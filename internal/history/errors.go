package history

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors. Fatal at startup, never retried.
	ErrInvalidRange   = errors.New("invalid date range")
	ErrInvalidStation = errors.New("invalid station identifier")
	ErrBadLogName     = errors.New("log name is not STATION_START_END.EXT")
	ErrStartMismatch  = errors.New("first record does not match log start date")
	ErrOutOfRange     = errors.New("record outside log date range")

	// Content errors. The page was retrieved but cannot be trusted.
	ErrMalformedPage = errors.New("malformed history page")
	ErrOutOfOrder    = errors.New("record dates out of order")

	// ErrLogNotFound is returned by stores for logs that were never created.
	ErrLogNotFound = errors.New("log not found")
)

// FetchError wraps a retrieval failure for one window.
type FetchError struct {
	Station string
	Window  DateWindow
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s: %v", e.Station, e.Window, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err stems from bad input rather than from
// the source or the store.
func IsConfigError(err error) bool {
	for _, target := range []error{ErrInvalidRange, ErrInvalidStation, ErrBadLogName, ErrStartMismatch, ErrOutOfRange} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
