// Package cards provides trading card and sealed product pricing sources.
package cards

import "errors"

var (
	// ErrCertNotFound indicates the certificate registry has no such certificate.
	ErrCertNotFound = errors.New("certificate not found")
	// ErrTokenResponse indicates the OAuth token endpoint returned an unusable token.
	ErrTokenResponse = errors.New("invalid token response")
)
