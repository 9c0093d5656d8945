package formula

import "errors"

var (
	// ErrFetch marks transport or auth failures reading the catalog.
	// Callers treat a fetch error like an empty result: report "no data",
	// never crash.
	ErrFetch = errors.New("catalog fetch failed")

	// ErrAppend marks a rejected or failed submission relay.
	ErrAppend = errors.New("catalog append failed")

	// ErrNotFound is returned by Get when no row matches the id.
	ErrNotFound = errors.New("formula not found")
)
