package msgclient

import (
	"errors"
	"fmt"
)

var (
	ErrContactNotFound  = errors.New("msgclient: contact not found")
	ErrSelfConversation = errors.New("msgclient: cannot start a conversation with yourself")
	ErrUnknownCodec     = errors.New("msgclient: no codec registered for content type")
	ErrNoKeys           = errors.New("msgclient: client has no key bundle")
)

// APIError is a non-2xx response from a network service.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, e.Message)
}
