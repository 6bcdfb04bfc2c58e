package router_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"xmtp-legacy/internal/jwtsigner"
	"xmtp-legacy/services/gateway/internal/authz"
	"xmtp-legacy/services/gateway/internal/config"
	"xmtp-legacy/services/gateway/internal/observability/metrics"
	"xmtp-legacy/services/gateway/internal/router"
	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("gateway-test")
	os.Exit(m.Run())
}

type seen struct {
	Path      string `json:"path"`
	Query     string `json:"query"`
	Method    string `json:"method"`
	RequestID string `json:"requestId"`
	Auth      string `json:"auth"`
}

func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(seen{
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Method:    r.Method,
			RequestID: r.Header.Get("X-Request-ID"),
			Auth:      r.Header.Get("Authorization"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	gateway  *httptest.Server
	operator *jwtsigner.Signer
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	upstream := echoUpstream(t)
	operator, err := jwtsigner.NewFromBase64("", "ops-1", "xmtp-legacy")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := jwtsigner.NewVerifier(operator.PublicKeyBase64(), "xmtp-legacy")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	cfg := config.Config{
		KeysBaseURL:     upstream.URL,
		MessagesBaseURL: upstream.URL,
		CORSOrigins:     []string{"https://app.example"},
		RateLimit:       1000,
		RateWindow:      time.Minute,
		RequestTimeout:  5 * time.Second,
		UpstreamTimeout: 5 * time.Second,
		TokenMaxAge:     time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := router.New(cfg, verifier)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	gw := httptest.NewServer(h)
	t.Cleanup(gw.Close)
	return fixture{gateway: gw, operator: operator}
}

func do(t *testing.T, method, url, token string) (*http.Response, seen) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var s seen
	if resp.StatusCode == http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&s)
	}
	return resp, s
}

func clientToken(t *testing.T, at time.Time) string {
	t.Helper()
	wallet, err := cryptocore.GeneratePrivateKey(at)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	bundle, err := cryptocore.GeneratePrivateKeyBundleV1(wallet, at)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	tok, err := envelope.CreateAuthToken(bundle, at)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func TestPublishRequiresClientToken(t *testing.T) {
	f := newFixture(t, nil)
	url := f.gateway.URL + "/message/v1/publish"

	if resp, _ := do(t, http.MethodPost, url, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, url, "bm90IGEgdG9rZW4="); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
	stale := clientToken(t, time.Now().Add(-2*time.Hour))
	if resp, _ := do(t, http.MethodPost, url, stale); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.StatusCode)
	}

	fresh := clientToken(t, time.Now())
	resp, s := do(t, http.MethodPost, url, fresh)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if s.Path != "/message/v1/publish" || s.Auth != "Bearer "+fresh {
		t.Fatalf("unexpected upstream request %+v", s)
	}
	if s.RequestID == "" || s.RequestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("request id not propagated: upstream %q response %q", s.RequestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestReadRoutesArePublic(t *testing.T) {
	f := newFixture(t, nil)
	for _, tc := range []struct{ method, path, upstream string }{
		{http.MethodPost, "/message/v1/query", "/message/v1/query"},
		{http.MethodPost, "/message/v1/batch-query", "/message/v1/batch-query"},
		{http.MethodPost, "/keys/contact", "/keys/contact"},
		{http.MethodGet, "/keys/contact?address=0xabc", "/keys/contact"},
	} {
		resp, s := do(t, tc.method, f.gateway.URL+tc.path, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", tc.method, tc.path, resp.StatusCode)
		}
		if s.Path != tc.upstream || s.Method != tc.method {
			t.Fatalf("%s %s: unexpected upstream request %+v", tc.method, tc.path, s)
		}
	}
	_, s := do(t, http.MethodGet, f.gateway.URL+"/keys/contact?address=0xabc", "")
	if s.Query != "address=0xabc" {
		t.Fatalf("query not forwarded: %q", s.Query)
	}
}

func TestAdminRequiresOperatorToken(t *testing.T) {
	f := newFixture(t, nil)
	url := f.gateway.URL + "/admin/contacts/0xAbC"

	if resp, _ := do(t, http.MethodDelete, url, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodDelete, url, clientToken(t, time.Now())); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("client tokens must not open admin routes, got %d", resp.StatusCode)
	}
	viewer, _ := f.operator.Sign("alice", time.Minute, map[string]any{"role": "viewer"})
	if resp, _ := do(t, http.MethodDelete, url, viewer); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong role, got %d", resp.StatusCode)
	}

	op, err := f.operator.Sign("alice", time.Minute, map[string]any{"role": authz.OperatorRole})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp, s := do(t, http.MethodDelete, url, op)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if s.Path != "/keys/admin/contact" || s.Query != "address=0xAbC" || s.Method != http.MethodDelete {
		t.Fatalf("unexpected upstream request %+v", s)
	}

	resp, _ = do(t, http.MethodGet, f.gateway.URL+"/admin/metrics", op)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics to be served, got %d", resp.StatusCode)
	}
}

func TestOperatorJWKS(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.gateway.URL + "/.well-known/operator-jwks.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var set struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0]["crv"] != "Ed25519" || set.Keys[0]["alg"] != "EdDSA" {
		t.Fatalf("unexpected key set %+v", set.Keys)
	}
	want := strings.TrimRight(strings.NewReplacer("+", "-", "/", "_").Replace(f.operator.PublicKeyBase64()), "=")
	if set.Keys[0]["x"] != want {
		t.Fatalf("published key %q does not match operator key %q", set.Keys[0]["x"], want)
	}
}

func TestAdminDisabledWithoutOperatorKey(t *testing.T) {
	upstream := echoUpstream(t)
	h, err := router.New(config.Config{
		KeysBaseURL:     upstream.URL,
		MessagesBaseURL: upstream.URL,
		CORSOrigins:     []string{"*"},
		RateLimit:       100,
		RateWindow:      time.Minute,
		RequestTimeout:  time.Second,
		UpstreamTimeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/metrics", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/operator-jwks.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected no key set without an operator key, got %d", rec.Code)
	}
}

func TestRateLimitByIP(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RateLimit = 2 })
	url := f.gateway.URL + "/healthz"
	for i := 0; i < 2; i++ {
		if resp, _ := do(t, http.MethodGet, url, ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	if resp, _ := do(t, http.MethodGet, url, ""); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, f.gateway.URL+"/message/v1/publish", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
