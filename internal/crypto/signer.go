package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Signer produces detached ed25519 signatures over canonical order messages.
// The signature and the base64 message are persisted so the settlement
// backend can verify them independently.
type Signer struct {
	priv    ed25519.PrivateKey
	address string // base58 public key
}

// NewSigner creates a Signer from a base58-encoded 64-byte ed25519 private
// key (the standard Solana keypair encoding).
func NewSigner(privateKeyB58 string) (*Signer, error) {
	raw, err := base58.Decode(privateKeyB58)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto/signer: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		priv:    priv,
		address: base58.Encode(pub),
	}, nil
}

// Address returns the signer's base58 public key.
func (s *Signer) Address() string { return s.address }

// SignOrder encodes and signs the message, returning the base64 signature and
// the base64 message bytes.
func (s *Signer) SignOrder(m OrderMessage) (signature, message string, err error) {
	raw, err := m.Encode()
	if err != nil {
		return "", "", fmt.Errorf("crypto/signer: %w", err)
	}
	sig := ed25519.Sign(s.priv, raw)
	return base64.StdEncoding.EncodeToString(sig), base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyOrder checks a detached signature over the base64 message against the
// base58 public key. It returns ErrUnauthorized on any mismatch so callers
// can map the failure to a stable rejection code.
func VerifyOrder(publicKeyB58, messageB64, signatureB64 string) error {
	pub, err := base58.Decode(publicKeyB58)
	if err != nil {
		return fmt.Errorf("crypto: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	raw, err := base64.StdEncoding.DecodeString(messageB64)
	if err != nil {
		return fmt.Errorf("crypto: decode message: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), raw, sig) {
		return fmt.Errorf("crypto: signature verification failed: %w", domain.ErrUnauthorized)
	}
	return nil
}
