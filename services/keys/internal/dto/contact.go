package dto

import "time"

type PublishContactRequest struct {
	// Bundle is the base64 serialized contact bundle.
	Bundle string `json:"bundle"`
}

type ContactResponse struct {
	Address   string    `json:"address"`
	Version   int       `json:"version"`
	Bundle    string    `json:"bundle"`
	Stored    bool      `json:"stored"`
	UpdatedAt time.Time `json:"updatedAt"`
}
