// Package config loads broker configuration from the environment. Secret
// material (the robot secret) is referenced by file path, never carried in
// an environment value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	// ErrMissingRequired indicates a required setting is absent.
	ErrMissingRequired = errors.New("config: missing required setting")
)

// Config is the full broker configuration.
type Config struct {
	// HubBaseURL is the hub core API endpoint resolving analyses and nodes.
	HubBaseURL string `env:"NODEBROKER_HUB_BASE_URL"`
	// HubAuthBaseURL is the hub's token endpoint base.
	HubAuthBaseURL string `env:"NODEBROKER_HUB_AUTH_BASE_URL"`
	// RelayURL is the websocket relay endpoint (ws:// or wss://).
	RelayURL string `env:"NODEBROKER_RELAY_URL"`

	// RobotID is this node's hub account id.
	RobotID string `env:"NODEBROKER_ROBOT_ID"`
	// RobotSecretFile points at a file holding the robot secret.
	RobotSecretFile string `env:"NODEBROKER_ROBOT_SECRET_FILE"`
	// PrivateKeyFile points at the PEM-encoded ECDH private key.
	PrivateKeyFile string `env:"NODEBROKER_PRIVATE_KEY_FILE"`

	// MaxRetries bounds retries of transient upstream failures.
	MaxRetries int `env:"NODEBROKER_MAX_RETRIES" envDefault:"3"`
	// RetryBaseDelay is the first retry delay; later delays back off
	// exponentially.
	RetryBaseDelay time.Duration `env:"NODEBROKER_RETRY_BASE_DELAY" envDefault:"500ms"`

	// ReconnectBaseDelay and ReconnectMaxDelay bound the relay reconnect
	// backoff.
	ReconnectBaseDelay time.Duration `env:"NODEBROKER_RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay  time.Duration `env:"NODEBROKER_RECONNECT_MAX_DELAY" envDefault:"30s"`

	// WebhookTimeout caps each webhook delivery attempt.
	WebhookTimeout time.Duration `env:"NODEBROKER_WEBHOOK_TIMEOUT" envDefault:"10s"`

	// FirestoreProject enables the Firestore subscription store when set;
	// empty selects the in-memory store.
	FirestoreProject    string `env:"NODEBROKER_FIRESTORE_PROJECT"`
	FirestoreCollection string `env:"NODEBROKER_FIRESTORE_COLLECTION" envDefault:"subscriptions"`

	// ListenAddr is the local address for the send API.
	ListenAddr string `env:"NODEBROKER_LISTEN_ADDR" envDefault:"127.0.0.1:8085"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"NODEBROKER_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates required settings.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"NODEBROKER_HUB_BASE_URL":      c.HubBaseURL,
		"NODEBROKER_HUB_AUTH_BASE_URL": c.HubAuthBaseURL,
		"NODEBROKER_RELAY_URL":         c.RelayURL,
		"NODEBROKER_ROBOT_ID":          c.RobotID,
		"NODEBROKER_ROBOT_SECRET_FILE": c.RobotSecretFile,
		"NODEBROKER_PRIVATE_KEY_FILE":  c.PrivateKeyFile,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequired, name)
		}
	}
	return nil
}

// RobotSecret reads the robot secret from the configured file, trimming
// trailing whitespace so mounted secrets with a final newline work.
func (c Config) RobotSecret() (string, error) {
	raw, err := os.ReadFile(c.RobotSecretFile)
	if err != nil {
		return "", fmt.Errorf("config: read robot secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("%w: robot secret file %s is empty", ErrMissingRequired, c.RobotSecretFile)
	}
	return secret, nil
}
