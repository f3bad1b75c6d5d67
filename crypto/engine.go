package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// NonceSize is the fixed AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the fixed AES-GCM authentication tag length in bytes.
	TagSize = 16

	// derived symmetric keys are always AES-256
	keySize = 32
)

var (
	// ErrInvalidKeyMaterial is returned when a key is missing or not a
	// compatible elliptic-curve agreement key.
	ErrInvalidKeyMaterial = errors.New("crypto: invalid key material")
	// ErrInvalidKeyingInfo is returned for empty keying info. Empty keying
	// material would make the derivation message-independent and reuse one
	// symmetric key across messages.
	ErrInvalidKeyingInfo = errors.New("crypto: keying info must not be empty")
)

// Error represents a failed cryptographic operation. Crypto failures are
// fatal for the single message and are never retried.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Engine performs the per-message cryptography used when exchanging messages
// through the relay: ECDH key agreement, HKDF-SHA-384 key derivation bound to
// message-specific keying info, and AES-256-GCM encryption.
type Engine struct {
	random io.Reader
}

// NewEngine creates an Engine backed by crypto/rand.
func NewEngine() *Engine {
	return &Engine{random: rand.Reader}
}

// DeriveKey derives the symmetric key for exactly one message from the local
// private agreement key, the peer's public key and the message-specific
// keying info. Sender and receiver compute the same key without exchanging it.
func (e *Engine) DeriveKey(local *ecdh.PrivateKey, peer *ecdh.PublicKey, keyingInfo []byte) ([]byte, error) {
	if local == nil || peer == nil {
		return nil, ErrInvalidKeyMaterial
	}
	if len(keyingInfo) == 0 {
		return nil, ErrInvalidKeyingInfo
	}

	shared, err := local.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New384, shared, nil, keyingInfo), key); err != nil {
		return nil, &Error{Op: "derive key", Err: err}
	}
	return key, nil
}

// Encrypt seals plaintext under the derived key and returns
// nonce || ciphertext+tag. A fresh random nonce is generated per call.
// Zero-length plaintext is valid input.
func (e *Engine) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(e.random, nonce); err != nil {
		return nil, &Error{Op: "encrypt", Err: err}
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Malformed input or an
// authentication tag mismatch yields an *Error.
func (e *Engine) Decrypt(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, &Error{Op: "decrypt", Err: fmt.Errorf("blob of %d bytes is shorter than the %d byte nonce", len(blob), NonceSize)}
	}

	aead, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: err}
	}
	return plaintext, nil
}

func (e *Engine) newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeyMaterial
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKeyMaterial
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, &Error{Op: "aead setup", Err: err}
	}
	return aead, nil
}

// KeyingInfo computes the deterministic keying info for a message so that
// sender and receiver derive the same symmetric key. Binding the key to the
// message id and analysis id prevents key reuse across messages even between
// the same peer pair.
func KeyingInfo(messageID uuid.UUID, analysisID string) []byte {
	return []byte(messageID.String() + analysisID)
}
