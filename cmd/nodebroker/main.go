// Command nodebroker runs the node message broker: it connects this node to
// the hub relay, encrypts and routes messages between analysis participants,
// and forwards received messages to locally registered webhook subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"

	"github.com/fedmesh/nodebroker/config"
	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/crypto"
	"github.com/fedmesh/nodebroker/hub"
	"github.com/fedmesh/nodebroker/hubauth"
	"github.com/fedmesh/nodebroker/internal/relay"
	"github.com/fedmesh/nodebroker/internal/reliability"
	"github.com/fedmesh/nodebroker/messaging"
	"github.com/fedmesh/nodebroker/pipeline"
	"github.com/fedmesh/nodebroker/subscription"
)

func main() {
	if err := run(); err != nil {
		slog.Error("broker terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secret, err := cfg.RobotSecret()
	if err != nil {
		return err
	}
	privateKey, err := crypto.LoadPrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		return err
	}

	policy := reliability.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
	}

	authenticator := hubauth.NewHubAuthenticator(cfg.HubAuthBaseURL, cfg.RobotID, secret,
		hubauth.WithAuthLogger(logger),
		hubauth.WithAuthRetryPolicy(policy))
	tokens := hubauth.NewTokenCache(authenticator, hubauth.WithCacheLogger(logger))

	hubClient := &http.Client{
		Transport: hubauth.NewTransport(tokens, nil, logger),
	}
	gateway := hub.NewClient(cfg.HubBaseURL, hubClient,
		hub.WithLogger(logger),
		hub.WithRetryPolicy(policy))

	engine := crypto.NewEngine()

	emitPipe := pipeline.New[contracts.EmitMessage](logger)
	emitPipe.Register(pipeline.NewEncryption(privateKey, engine, gateway))
	emitPipe.Register(pipeline.NewBase64Encode())

	receivePipe := pipeline.New[contracts.ReceiveMessage](logger)
	receivePipe.Register(pipeline.NewBase64Decode())
	receivePipe.Register(pipeline.NewDecryption(privateKey, engine, gateway))

	store, closeStore, err := newSubscriptionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	forwarder := messaging.NewWebhookForwarder(store,
		messaging.WithForwarderLogger(logger),
		messaging.WithForwarderRetryPolicy(policy),
		messaging.WithForwarderClient(&http.Client{Timeout: cfg.WebhookTimeout}))
	receiver := messaging.NewReceiver(receivePipe, logger, forwarder)

	conn, err := relay.NewConnection(cfg.RelayURL, tokens,
		func(frame contracts.InboundFrame) {
			receiver.Handle(ctx, frame)
		},
		relay.WithLogger(logger),
		relay.WithBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay))
	if err != nil {
		return err
	}

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	service := messaging.NewService(cfg.RobotID, gateway, emitPipe, conn, logger)

	server := newSendServer(cfg.ListenAddr, service, conn, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("node broker running",
		"robot_id", cfg.RobotID,
		"relay", cfg.RelayURL,
		"listen", cfg.ListenAddr)

	select {
	case err := <-serverErr:
		return fmt.Errorf("send api: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownServer(server, logger)
	return nil
}

func newSubscriptionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (subscription.Store, func(), error) {
	if cfg.FirestoreProject == "" {
		logger.Info("using in-memory subscription store")
		return subscription.NewMemoryStore(), func() {}, nil
	}

	client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
	if err != nil {
		return nil, nil, fmt.Errorf("connect firestore: %w", err)
	}
	store, err := subscription.NewFirestoreStore(client, cfg.FirestoreCollection, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.Info("using firestore subscription store",
		"project", cfg.FirestoreProject,
		"collection", cfg.FirestoreCollection)
	return store, func() { client.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
