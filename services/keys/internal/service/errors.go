package service

import "errors"

var (
	// ErrInvalidRequest covers undecodable or unverifiable bundles and bad
	// addresses.
	ErrInvalidRequest = errors.New("keys: invalid request")
	ErrNotFound       = errors.New("keys: no contact bundle for address")
)
