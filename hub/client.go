package hub

import (
	"context"
	"crypto/ecdh"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fedmesh/nodebroker/crypto"
	"github.com/fedmesh/nodebroker/internal/reliability"
)

var (
	// ErrNoMatchingNode is returned when a robot id does not resolve to
	// exactly one node. This is an application error and is not retried.
	ErrNoMatchingNode = errors.New("hub: robot id does not resolve to exactly one node")
	// ErrNoPublicKey is returned when the resolved node has no public key set.
	ErrNoPublicKey = errors.New("hub: node has no public key set")
)

// Gateway resolves analysis participants and peer key material through the
// hub directory service.
type Gateway interface {
	FetchAnalysisNodes(ctx context.Context, analysisID string) ([]AnalysisNode, error)
	FetchPublicKey(ctx context.Context, robotID string) (*ecdh.PublicKey, error)
}

// Client is the HTTP Gateway implementation. Every request is expected to be
// authenticated by the hubauth.Transport inside the injected HTTP client;
// transient upstream failures are retried under the shared policy.
type Client struct {
	client  *http.Client
	baseURL string
	policy  reliability.Policy
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy sets the retry policy for hub requests.
func WithRetryPolicy(policy reliability.Policy) ClientOption {
	return func(c *Client) {
		c.policy = policy
	}
}

// NewClient creates a hub client against the given core base URL. The HTTP
// client must attach authentication itself (see hubauth.NewTransport).
func NewClient(baseURL string, client *http.Client, options ...ClientOption) *Client {
	c := &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		policy:  reliability.DefaultPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// FetchAnalysisNodes resolves all nodes participating in the analysis,
// including their key material.
func (c *Client) FetchAnalysisNodes(ctx context.Context, analysisID string) ([]AnalysisNode, error) {
	query := url.Values{}
	query.Set("filter[analysis_id]", analysisID)
	query.Set("include", "node")

	var nodes []AnalysisNode
	err := c.getJSON(ctx, "/analysis-nodes", query, &nodes)
	if err != nil {
		return nil, fmt.Errorf("hub: could not fetch analysis nodes for analysis %q: %w", analysisID, err)
	}
	return nodes, nil
}

// FetchPublicKey resolves a single peer's public agreement key by robot id.
// Zero or multiple matches and missing key material are application errors
// and are not retried.
func (c *Client) FetchPublicKey(ctx context.Context, robotID string) (*ecdh.PublicKey, error) {
	query := url.Values{}
	query.Set("filter[robot_id]", robotID)

	var nodes []Node
	if err := c.getJSON(ctx, "/nodes", query, &nodes); err != nil {
		return nil, fmt.Errorf("hub: could not fetch public key for robot %q: %w", robotID, err)
	}
	if len(nodes) != 1 {
		return nil, fmt.Errorf("%w: robot %q matched %d nodes", ErrNoMatchingNode, robotID, len(nodes))
	}
	if nodes[0].PublicKey == "" {
		return nil, fmt.Errorf("%w: robot %q", ErrNoPublicKey, robotID)
	}

	key, err := crypto.ParsePublicKeyHexPEM(nodes[0].PublicKey)
	if err != nil {
		return nil, fmt.Errorf("hub: malformed public key for robot %q: %w", robotID, err)
	}
	return key, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return reliability.Retry(ctx, c.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return reliability.MarkRetryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			c.logger.Warn("hub request failed, retrying",
				"path", path,
				"status", resp.StatusCode,
			)
			return reliability.MarkRetryable(fmt.Errorf("hub responded with status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("hub responded with status %d", resp.StatusCode)
		}

		container := responseContainer[json.RawMessage]{}
		if err := json.NewDecoder(resp.Body).Decode(&container); err != nil {
			return fmt.Errorf("malformed hub response: %w", err)
		}
		return json.Unmarshal(container.Data, out)
	})
}
