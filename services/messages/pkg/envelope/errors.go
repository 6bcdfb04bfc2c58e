package envelope

import (
	"errors"

	cryptocore "xmtp-legacy/services/crypto-core"
)

var (
	ErrInvalidAddress         = errors.New("envelope: invalid address")
	ErrInvalidInvitation      = errors.New("envelope: invalid invitation")
	ErrUnauthorizedViewer     = errors.New("envelope: viewer is not a party to this invitation")
	ErrMalformedEnvelope      = errors.New("envelope: malformed envelope")
	ErrTopicMismatch          = errors.New("envelope: topic mismatch")
	ErrInvalidContactBundle   = errors.New("envelope: invalid contact bundle")
	ErrInvalidToken           = errors.New("envelope: invalid auth token")
	ErrUnsupportedCompression = errors.New("envelope: unsupported compression")

	// Re-exported so callers need only this package to classify failures.
	ErrDecryption       = cryptocore.ErrDecryption
	ErrInvalidSignature = cryptocore.ErrInvalidSignature
)
