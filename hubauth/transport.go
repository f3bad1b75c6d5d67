package hubauth

import (
	"log/slog"
	"net/http"
)

// Transport is an http.RoundTripper that attaches a currently valid bearer
// token for the request's destination host and retries exactly once with a
// recomputed token when the upstream answers 401. A second 401 is returned to
// the caller unchanged. The 401 path covers token-expiry time skew between
// the broker and the authentication server.
type Transport struct {
	base   http.RoundTripper
	cache  *TokenCache
	logger *slog.Logger
}

// NewTransport wraps base with token handling. A nil base falls back to
// http.DefaultTransport.
func NewTransport(cache *TokenCache, base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{base: base, cache: cache, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()

	token, err := t.cache.TokenFor(req.Context(), host)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(withBearer(req, token.Value))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	resp.Body.Close()

	token, err = t.cache.TokenFor(req.Context(), host)
	if err != nil {
		return nil, err
	}

	t.logger.Warn("retrying request with recomputed bearer token after 401",
		"url", req.URL.String(),
	)
	retry := withBearer(req, token.Value)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return t.base.RoundTrip(retry)
}

// withBearer clones the request so the caller's request is never mutated.
func withBearer(req *http.Request, token string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return clone
}
