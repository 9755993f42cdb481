// Package client is a Go client for the cardprice HTTP and stream API.
package client

import "errors"

var (
	// ErrServerHTTPError indicates that the price server returned an HTTP error.
	ErrServerHTTPError = errors.New("price server returned HTTP error")
	// ErrNoEndpoints indicates that no server URL was given.
	ErrNoEndpoints = errors.New("at least one server URL is required")
	// ErrNoConnection indicates the stream has no live connection.
	ErrNoConnection = errors.New("no stream connection")
)
