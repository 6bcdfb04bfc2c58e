package cryptocore

import "errors"

var (
	ErrDecryption       = errors.New("cryptocore: decryption failed")
	ErrInvalidKey       = errors.New("cryptocore: invalid key")
	ErrInvalidSignature = errors.New("cryptocore: invalid signature")
	ErrMissingSignature = errors.New("cryptocore: missing signature")
	ErrPreKeyNotFound   = errors.New("cryptocore: pre-key not found")
	ErrMalformedKey     = errors.New("cryptocore: malformed key encoding")
)
