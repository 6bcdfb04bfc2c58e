package msgclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"xmtp-legacy/services/messages/pkg/envelope"
)

// ContactDirectory is an index of the latest contact bundle per wallet.
type ContactDirectory interface {
	PublishContact(ctx context.Context, bundle envelope.ContactBundle) error
	LookupContact(ctx context.Context, address string) (*envelope.ContactBundle, error)
}

// KeysClient is the ContactDirectory backed by the keys service.
type KeysClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewKeysClient(baseURL string) *KeysClient {
	return &KeysClient{BaseURL: normalizeBaseURL(baseURL), HTTP: &http.Client{Timeout: 10 * time.Second}}
}

type contactRequest struct {
	Bundle string `json:"bundle"`
}

type contactResponse struct {
	Address   string    `json:"address"`
	Version   int       `json:"version"`
	Bundle    string    `json:"bundle"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (k *KeysClient) PublishContact(ctx context.Context, bundle envelope.ContactBundle) error {
	body, err := json.Marshal(contactRequest{Bundle: base64.StdEncoding.EncodeToString(bundle.Marshal())})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(k.BaseURL, "/keys/contact"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(k.httpClient(), req, "publish contact", nil)
}

func (k *KeysClient) LookupContact(ctx context.Context, address string) (*envelope.ContactBundle, error) {
	endpoint := joinURL(k.BaseURL, "/keys/contact") + "?address=" + url.QueryEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp contactResponse
	if err := doJSON(k.httpClient(), req, "lookup contact", &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Bundle)
	if err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	bundle, err := envelope.UnmarshalContactBundle(raw)
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (k *KeysClient) httpClient() *http.Client {
	if k.HTTP != nil {
		return k.HTTP
	}
	return http.DefaultClient
}
