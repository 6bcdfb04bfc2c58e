package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"xmtp-legacy/services/messages/pkg/envelope"
)

// API is the transport: a topic-partitioned append log of opaque envelopes.
type API interface {
	Publish(ctx context.Context, envs []envelope.Envelope) ([]envelope.Envelope, error)
	Query(ctx context.Context, req envelope.QueryRequest) (envelope.QueryResponse, error)
	BatchQuery(ctx context.Context, reqs []envelope.QueryRequest) ([]envelope.QueryResponse, error)
	Subscribe(ctx context.Context, topics []string) (<-chan envelope.Envelope, error)
}

// TokenSource returns a bearer token for authenticated calls.
type TokenSource func(ctx context.Context) (string, error)

// HTTPClient talks to the messages service over HTTP and websockets.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: normalizeBaseURL(baseURL),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) SetTokenSource(ts TokenSource) {
	if c.Tokens == nil {
		c.Tokens = ts
	}
}

func (c *HTTPClient) Publish(ctx context.Context, envs []envelope.Envelope) ([]envelope.Envelope, error) {
	var resp envelope.PublishResponse
	if err := c.post(ctx, "publish", "/message/v1/publish", envelope.PublishRequest{Envelopes: envs}, &resp, true); err != nil {
		return nil, err
	}
	return resp.Envelopes, nil
}

func (c *HTTPClient) Query(ctx context.Context, req envelope.QueryRequest) (envelope.QueryResponse, error) {
	var resp envelope.QueryResponse
	err := c.post(ctx, "query", "/message/v1/query", req, &resp, false)
	return resp, err
}

func (c *HTTPClient) BatchQuery(ctx context.Context, reqs []envelope.QueryRequest) ([]envelope.QueryResponse, error) {
	var resp envelope.BatchQueryResponse
	if err := c.post(ctx, "batch query", "/message/v1/batch-query", envelope.BatchQueryRequest{Requests: reqs}, &resp, false); err != nil {
		return nil, err
	}
	return resp.Responses, nil
}

// Subscribe streams envelopes published to topics until ctx is cancelled or
// the connection drops; the channel is closed either way.
func (c *HTTPClient) Subscribe(ctx context.Context, topics []string) (<-chan envelope.Envelope, error) {
	wsURL, err := websocketURL(c.BaseURL, "/message/v1/subscribe", topics)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(wsURL, c.BaseURL)
	if err != nil {
		return nil, err
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan envelope.Envelope)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var env envelope.Envelope
			if err := websocket.JSON.Receive(conn, &env); err != nil {
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, in, out any, auth bool) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.BaseURL, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth && c.Tokens != nil {
		token, err := c.Tokens(ctx)
		if err != nil {
			return fmt.Errorf("%s: auth token: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(c.httpClient(), req, op, out)
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func doJSON(hc *http.Client, req *http.Request, op string, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return &APIError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func joinURL(base, path string) string {
	return normalizeBaseURL(base) + path
}

func normalizeBaseURL(in string) string {
	return strings.TrimRight(strings.TrimSpace(in), "/")
}

func websocketURL(base, path string, topics []string) (string, error) {
	base = normalizeBaseURL(base)
	if base == "" {
		return "", fmt.Errorf("messages base URL missing")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	for _, t := range topics {
		q.Add("topic", t)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// queryAll walks every page of req in order. Pages are handed to fn as they
// arrive; callers that must not act on partial history buffer them.
func queryAll(ctx context.Context, api API, req envelope.QueryRequest, fn func([]envelope.Envelope) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := api.Query(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Envelopes) > 0 {
			if err := fn(resp.Envelopes); err != nil {
				return err
			}
		}
		if resp.PagingInfo.Cursor == nil || len(resp.Envelopes) == 0 {
			return nil
		}
		req.PagingInfo.Cursor = resp.PagingInfo.Cursor
	}
}
