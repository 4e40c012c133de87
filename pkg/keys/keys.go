package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeyPair carries the public half and the protected private half of a user
// signing key. The private key is opaque to the rest of the system.
type KeyPair struct {
	PublicKey           string `json:"public_key"`
	EncryptedPrivateKey string `json:"encrypted_private_key"`
}

// GenerateKeyPair creates an ed25519 key pair. Private-key protection is
// delegated to the platform key store; here the seed is base64-wrapped.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return KeyPair{
		PublicKey:           base64.StdEncoding.EncodeToString(pub),
		EncryptedPrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// EntrySigner signs audit entry payloads with a process-wide ed25519 key.
type EntrySigner struct {
	priv ed25519.PrivateKey
}

// NewEntrySigner builds a signer from a base64 ed25519 seed.
func NewEntrySigner(seedBase64 string) (*EntrySigner, error) {
	seed, err := base64.StdEncoding.DecodeString(seedBase64)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("signing seed must be 32 bytes")
	}
	return &EntrySigner{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *EntrySigner) Sign(payload []byte) (string, error) {
	if s == nil || len(s.priv) == 0 {
		return "", errors.New("signer not initialized")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)), nil
}

// PublicKey returns the base64 public half of the signing key.
func (s *EntrySigner) PublicKey() string {
	if s == nil || len(s.priv) == 0 {
		return ""
	}
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Verify checks a base64 signature over payload against a base64 public key.
func Verify(pubBase64 string, payload []byte, sigBase64 string) error {
	pub, err := base64.StdEncoding.DecodeString(pubBase64)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return errors.New("public key must be 32 bytes")
	}
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return errors.New("invalid signature")
	}
	return nil
}
