package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub, err := base64.StdEncoding.DecodeString(pair.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		t.Fatalf("bad public key: %v (%d bytes)", err, len(pub))
	}
	seed, err := base64.StdEncoding.DecodeString(pair.EncryptedPrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		t.Fatalf("bad private seed: %v (%d bytes)", err, len(seed))
	}

	second, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if second.PublicKey == pair.PublicKey {
		t.Fatal("key pairs must be unique")
	}
}

func TestEntrySignerSignAndVerify(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, err := NewEntrySigner(pair.EncryptedPrivateKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if signer.PublicKey() != pair.PublicKey {
		t.Fatal("signer public key must match the generated pair")
	}
	payload := []byte(`{"action":"Policy Update"}`)
	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(pair.PublicKey, payload, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(pair.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatal("tampered payload must fail verification")
	}
}

func TestNewEntrySignerRejectsBadSeed(t *testing.T) {
	if _, err := NewEntrySigner("not-base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := NewEntrySigner(short); err == nil {
		t.Fatal("expected length error")
	}
}

func TestVerifyRejectsBadInputs(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := Verify("%%%", []byte("x"), "c2ln"); err == nil {
		t.Fatal("expected public key decode error")
	}
	if err := Verify(base64.StdEncoding.EncodeToString([]byte("short")), []byte("x"), "c2ln"); err == nil {
		t.Fatal("expected public key length error")
	}
	if err := Verify(pair.PublicKey, []byte("x"), "%%%"); err == nil {
		t.Fatal("expected signature decode error")
	}
}

func TestNilSignerGuards(t *testing.T) {
	var signer *EntrySigner
	if _, err := signer.Sign([]byte("x")); err == nil {
		t.Fatal("expected error from nil signer")
	}
	if signer.PublicKey() != "" {
		t.Fatal("nil signer must report empty public key")
	}
}
