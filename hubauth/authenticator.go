package hubauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fedmesh/nodebroker/internal/reliability"
)

const (
	tokenPath            = "/token"
	grantTypeCredentials = "robot_credentials"
	grantTypeRefresh     = "refresh_token"
)

// AuthError marks an authentication or refresh failure. It is a distinct
// error kind so callers can tell failed credentials apart from ordinary
// transport errors.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hubauth: %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Authenticator obtains token pairs from the identity provider.
type Authenticator interface {
	// Authenticate performs a fresh credentials grant.
	Authenticate(ctx context.Context) (TokenPair, error)
	// Refresh exchanges a refresh token for a new pair.
	Refresh(ctx context.Context, refreshToken Token) (TokenPair, error)
}

// HubAuthenticator authenticates against the hub's OIDC-style token endpoint
// using the node's robot credentials. Transient upstream failures are retried
// under the shared policy; exhaustion surfaces as a reliability.ExhaustedError
// wrapping an AuthError.
type HubAuthenticator struct {
	client      *http.Client
	baseURL     string
	robotID     string
	robotSecret string
	policy      reliability.Policy
	logger      *slog.Logger
}

// HubAuthenticatorOption configures a HubAuthenticator.
type HubAuthenticatorOption func(*HubAuthenticator)

// WithAuthLogger sets the logger.
func WithAuthLogger(logger *slog.Logger) HubAuthenticatorOption {
	return func(a *HubAuthenticator) {
		a.logger = logger
	}
}

// WithAuthRetryPolicy sets the retry policy for token requests.
func WithAuthRetryPolicy(policy reliability.Policy) HubAuthenticatorOption {
	return func(a *HubAuthenticator) {
		a.policy = policy
	}
}

// WithAuthHTTPClient sets the HTTP client used for token requests.
func WithAuthHTTPClient(client *http.Client) HubAuthenticatorOption {
	return func(a *HubAuthenticator) {
		a.client = client
	}
}

// NewHubAuthenticator creates an authenticator for the given auth base URL
// and robot credentials.
func NewHubAuthenticator(baseURL, robotID, robotSecret string, options ...HubAuthenticatorOption) *HubAuthenticator {
	a := &HubAuthenticator{
		client:      http.DefaultClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		robotID:     robotID,
		robotSecret: robotSecret,
		policy:      reliability.DefaultPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Authenticate implements Authenticator.
func (a *HubAuthenticator) Authenticate(ctx context.Context) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeCredentials)
	form.Set("id", a.robotID)
	form.Set("secret", a.robotSecret)
	return a.requestToken(ctx, "authenticate", form)
}

// Refresh implements Authenticator.
func (a *HubAuthenticator) Refresh(ctx context.Context, refreshToken Token) (TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeRefresh)
	form.Set("refresh_token", refreshToken.Value)
	return a.requestToken(ctx, "refresh", form)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (a *HubAuthenticator) requestToken(ctx context.Context, op string, form url.Values) (TokenPair, error) {
	var pair TokenPair

	err := reliability.Retry(ctx, a.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+tokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return &AuthError{Op: op, Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return reliability.MarkRetryable(&AuthError{Op: op, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			a.logger.Warn("token request failed, retrying",
				"op", op,
				"status", resp.StatusCode,
			)
			return reliability.MarkRetryable(&AuthError{Op: op, Err: fmt.Errorf("hub responded with status %d", resp.StatusCode)})
		}
		if resp.StatusCode != http.StatusOK {
			return &AuthError{Op: op, Err: fmt.Errorf("hub responded with status %d", resp.StatusCode)}
		}

		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &AuthError{Op: op, Err: fmt.Errorf("malformed token response: %w", err)}
		}

		pair, err = buildTokenPair(body)
		if err != nil {
			return &AuthError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		a.logger.Error("token request failed", "op", op, "error", err)
		return TokenPair{}, err
	}
	return pair, nil
}

func buildTokenPair(body tokenResponse) (TokenPair, error) {
	access, err := parseToken(body.AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	pair := TokenPair{AccessToken: access}

	if body.RefreshToken != "" {
		refresh, err := parseToken(body.RefreshToken)
		if err != nil {
			return TokenPair{}, err
		}
		pair.RefreshToken = &refresh
	}
	return pair, nil
}
