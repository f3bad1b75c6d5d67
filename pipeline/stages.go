package pipeline

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"fmt"

	"github.com/fedmesh/nodebroker/contracts"
	"github.com/fedmesh/nodebroker/crypto"
	"github.com/fedmesh/nodebroker/hub"
)

// Encryption encrypts outgoing payloads for a single recipient. The content
// key is derived per message from the node's private key, the recipient's
// published public key, and keying info bound to the message identity, so a
// ciphertext produced for one message cannot be replayed under another.
type Encryption struct {
	private *ecdh.PrivateKey
	engine  *crypto.Engine
	gateway hub.Gateway
}

// NewEncryption creates the encryption stage.
func NewEncryption(private *ecdh.PrivateKey, engine *crypto.Engine, gateway hub.Gateway) *Encryption {
	return &Encryption{private: private, engine: engine, gateway: gateway}
}

// Process implements Middleware.
func (s *Encryption) Process(ctx context.Context, msg contracts.EmitMessage) (contracts.EmitMessage, error) {
	peer, err := s.gateway.FetchPublicKey(ctx, msg.Recipient.RobotID)
	if err != nil {
		return contracts.EmitMessage{}, fmt.Errorf("fetch public key for %s: %w", msg.Recipient.RobotID, err)
	}
	key, err := s.engine.DeriveKey(s.private, peer, crypto.KeyingInfo(msg.Context.MessageID, msg.Context.AnalysisID))
	if err != nil {
		return contracts.EmitMessage{}, err
	}
	ciphertext, err := s.engine.Encrypt(key, msg.Payload)
	if err != nil {
		return contracts.EmitMessage{}, err
	}
	return msg.WithPayload(ciphertext), nil
}

// Name implements Middleware.
func (s *Encryption) Name() string { return "encryption" }

// Decryption decrypts incoming payloads. Key derivation mirrors the sender's:
// the same shared secret falls out of the node's private key and the sender's
// public key, and the keying info is rebuilt from the message context.
type Decryption struct {
	private *ecdh.PrivateKey
	engine  *crypto.Engine
	gateway hub.Gateway
}

// NewDecryption creates the decryption stage.
func NewDecryption(private *ecdh.PrivateKey, engine *crypto.Engine, gateway hub.Gateway) *Decryption {
	return &Decryption{private: private, engine: engine, gateway: gateway}
}

// Process implements Middleware.
func (s *Decryption) Process(ctx context.Context, msg contracts.ReceiveMessage) (contracts.ReceiveMessage, error) {
	peer, err := s.gateway.FetchPublicKey(ctx, msg.Sender.RobotID)
	if err != nil {
		return contracts.ReceiveMessage{}, fmt.Errorf("fetch public key for %s: %w", msg.Sender.RobotID, err)
	}
	key, err := s.engine.DeriveKey(s.private, peer, crypto.KeyingInfo(msg.Context.MessageID, msg.Context.AnalysisID))
	if err != nil {
		return contracts.ReceiveMessage{}, err
	}
	plaintext, err := s.engine.Decrypt(key, msg.Payload)
	if err != nil {
		return contracts.ReceiveMessage{}, err
	}
	return msg.WithPayload(plaintext), nil
}

// Name implements Middleware.
func (s *Decryption) Name() string { return "decryption" }

// Base64Encode renders the payload as standard base64 so it survives the
// text-only relay frame. Runs after encryption on the emit path.
type Base64Encode struct{}

// NewBase64Encode creates the encode stage.
func NewBase64Encode() *Base64Encode { return &Base64Encode{} }

// Process implements Middleware.
func (s *Base64Encode) Process(_ context.Context, msg contracts.EmitMessage) (contracts.EmitMessage, error) {
	encoded := base64.StdEncoding.EncodeToString(msg.Payload)
	return msg.WithPayload([]byte(encoded)), nil
}

// Name implements Middleware.
func (s *Base64Encode) Name() string { return "base64-encode" }

// Base64Decode reverses Base64Encode. Runs before decryption on the receive
// path.
type Base64Decode struct{}

// NewBase64Decode creates the decode stage.
func NewBase64Decode() *Base64Decode { return &Base64Decode{} }

// Process implements Middleware.
func (s *Base64Decode) Process(_ context.Context, msg contracts.ReceiveMessage) (contracts.ReceiveMessage, error) {
	decoded, err := base64.StdEncoding.DecodeString(string(msg.Payload))
	if err != nil {
		return contracts.ReceiveMessage{}, fmt.Errorf("decode payload: %w", err)
	}
	return msg.WithPayload(decoded), nil
}

// Name implements Middleware.
func (s *Base64Decode) Name() string { return "base64-decode" }
