package aggregator

import "errors"

var (
	// ErrInvalidQuery indicates a query with no identity fields at all.
	ErrInvalidQuery = errors.New("query needs a name or an external id")
	// ErrNoSources indicates an aggregator built without any sources.
	ErrNoSources = errors.New("no pricing sources configured")
)
