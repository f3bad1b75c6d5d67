package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadPrivateKey reads this node's long-lived ECDH private key from a PEM
// file. PKCS#8 and SEC1 encodings are accepted. The key is loaded once at
// startup and treated as read-only afterwards.
func LoadPrivateKey(path string) (*ecdh.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: cannot read private key file %q: %w", path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block in private key file %q", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidKeyMaterial
		}
		return toAgreementPrivateKey(ecKey)
	}

	ecKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return toAgreementPrivateKey(ecKey)
}

// ParsePublicKeyHexPEM parses a peer public key as published by the hub:
// a hex-encoded PEM block containing a SubjectPublicKeyInfo structure.
func ParsePublicKeyHexPEM(hexPEM string) (*ecdh.PublicKey, error) {
	raw, err := hex.DecodeString(hexPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex encoded: %v", ErrInvalidKeyMaterial, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", ErrInvalidKeyMaterial)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKeyMaterial
	}

	agreementKey, err := ecKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return agreementKey, nil
}

func toAgreementPrivateKey(key *ecdsa.PrivateKey) (*ecdh.PrivateKey, error) {
	agreementKey, err := key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return agreementKey, nil
}
