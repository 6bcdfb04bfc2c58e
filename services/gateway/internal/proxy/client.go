package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xmtp-legacy/services/gateway/internal/observability/metrics"
)

type Client struct {
	name    string
	baseURL string
	hc      *http.Client
	debug   bool
}

// New returns a forwarder to one upstream service. name labels its metrics
// and logs.
func New(name, baseURL string, timeout time.Duration, debug bool) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		debug: debug,
	}
}

// Forward relays method, body, query and headers to path on the upstream and
// streams the response back. Request bodies are never logged.
func (c *Client) Forward(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.forward(w, r, path, r.URL.RawQuery)
	}
}

// ForwardQuery is Forward with the upstream query computed from the request,
// for routes that carry their arguments in the path.
func (c *Client) ForwardQuery(path string, query func(*http.Request) url.Values) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.forward(w, r, path, query(r).Encode())
	}
}

func (c *Client) forward(w http.ResponseWriter, r *http.Request, path, rawQuery string) {
	start := time.Now()
	upURL := c.baseURL + path
	if rawQuery != "" {
		upURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upURL, r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	req.Header = make(http.Header, len(r.Header))
	for k, vs := range r.Header {
		// hop-by-hop headers plus the ones net/http manages itself
		switch strings.ToLower(k) {
		case "connection", "keep-alive", "proxy-connection", "transfer-encoding",
			"upgrade", "te", "trailer", "content-length", "host":
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentLength != 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.ContentLength = r.ContentLength

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host == "" {
		host = r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff == "" {
		req.Header.Set("X-Forwarded-For", host)
	} else {
		req.Header.Set("X-Forwarded-For", xff+", "+host)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(c.name, "error").Inc()
		slog.Warn("proxy upstream unavailable", "upstream", c.name, "path", path, "error", err, "request_id", r.Header.Get("X-Request-ID"))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var bodyBuf []byte
	var body io.Reader = resp.Body
	if resp.StatusCode >= 400 && c.debug {
		bodyBuf, _ = io.ReadAll(io.LimitReader(resp.Body, 2048))
		body = io.MultiReader(bytes.NewReader(bodyBuf), resp.Body)
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, body)

	metrics.ProxyRequestsTotal.WithLabelValues(c.name, statusClass(resp.StatusCode)).Inc()
	slog.Debug("proxied",
		"upstream", c.name,
		"method", r.Method,
		"uri", r.URL.RequestURI(),
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"request_id", r.Header.Get("X-Request-ID"),
	)
	if len(bodyBuf) > 0 {
		trim := strings.TrimSpace(string(bodyBuf))
		if len(trim) > 500 {
			trim = trim[:500] + "...(truncated)"
		}
		slog.Debug("proxy upstream error body", "upstream", c.name, "status", resp.StatusCode, "body", trim)
	}
}

// NewWebsocketProxy reverse-proxies upgraded connections to base. Plain
// forwarding cannot carry a websocket because the client never hijacks.
func NewWebsocketProxy(name, base string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.ProxyRequestsTotal.WithLabelValues(name, "error").Inc()
		slog.Warn("websocket proxy error", "upstream", name, "error", err, "request_id", r.Header.Get("X-Request-ID"))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return p, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
