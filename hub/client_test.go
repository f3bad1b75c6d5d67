package hub

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fedmesh/nodebroker/internal/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() reliability.Policy {
	return reliability.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func hexPEMKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return hex.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestFetchAnalysisNodes(t *testing.T) {
	t.Run("decodes the participant list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/analysis-nodes", r.URL.Path)
			assert.Equal(t, "ana-1", r.URL.Query().Get("filter[analysis_id]"))
			assert.Equal(t, "node", r.URL.Query().Get("include"))

			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{
						"id":      "an-1",
						"node_id": "node-1",
						"node": map[string]any{
							"id":       "node-1",
							"type":     "default",
							"robot_id": "robot-1",
						},
					},
					{
						"id":      "an-2",
						"node_id": "node-2",
						"node": map[string]any{
							"id":       "node-2",
							"type":     "default",
							"robot_id": "robot-2",
						},
					},
				},
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		nodes, err := client.FetchAnalysisNodes(context.Background(), "ana-1")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "robot-1", nodes[0].Node.RobotID)
		assert.Equal(t, "node-2", nodes[1].NodeID)
	})

	t.Run("retries transient 5xx", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchAnalysisNodes(context.Background(), "ana-1")
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("fails with exhaustion after persistent 5xx", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchAnalysisNodes(context.Background(), "ana-1")
		assert.True(t, reliability.IsExhausted(err))
	})
}

func TestFetchPublicKey(t *testing.T) {
	serve := func(t *testing.T, nodes []map[string]any) *httptest.Server {
		t.Helper()
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/nodes", r.URL.Path)
			assert.Equal(t, "robot-2", r.URL.Query().Get("filter[robot_id]"))
			json.NewEncoder(w).Encode(map[string]any{"data": nodes})
		}))
	}

	t.Run("parses the single matching node's key", func(t *testing.T) {
		server := serve(t, []map[string]any{
			{"id": "node-2", "robot_id": "robot-2", "public_key": hexPEMKey(t)},
		})
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		key, err := client.FetchPublicKey(context.Background(), "robot-2")
		require.NoError(t, err)
		assert.NotNil(t, key)
	})

	t.Run("zero matches is an application error", func(t *testing.T) {
		server := serve(t, nil)
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchPublicKey(context.Background(), "robot-2")
		assert.ErrorIs(t, err, ErrNoMatchingNode)
	})

	t.Run("multiple matches is an application error", func(t *testing.T) {
		server := serve(t, []map[string]any{
			{"id": "node-2", "robot_id": "robot-2", "public_key": hexPEMKey(t)},
			{"id": "node-3", "robot_id": "robot-2", "public_key": hexPEMKey(t)},
		})
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchPublicKey(context.Background(), "robot-2")
		assert.ErrorIs(t, err, ErrNoMatchingNode)
	})

	t.Run("missing public key is an application error", func(t *testing.T) {
		server := serve(t, []map[string]any{
			{"id": "node-2", "robot_id": "robot-2"},
		})
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchPublicKey(context.Background(), "robot-2")
		assert.ErrorIs(t, err, ErrNoPublicKey)
	})

	t.Run("malformed key material is surfaced", func(t *testing.T) {
		server := serve(t, []map[string]any{
			{"id": "node-2", "robot_id": "robot-2", "public_key": "zz-not-hex"},
		})
		defer server.Close()

		client := NewClient(server.URL, server.Client(), WithRetryPolicy(fastRetry()))
		_, err := client.FetchPublicKey(context.Background(), "robot-2")
		assert.Error(t, err)
	})
}
