package manifest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/bhagyabanghadai/dhi/pkg/canonicalize"
	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

// Signer holds the key material used to sign and verify attestation
// manifests. A manifest's hash excludes its own Signature field, so signing
// is idempotent: signing twice with the same key produces the same
// signature bytes.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner wraps an Ed25519 private key for manifest signing.
func NewSigner(privateKey ed25519.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}
}

// Sign computes the manifest's content hash (excluding Signature) and
// stamps the base64-encoded Ed25519 signature onto it in place.
func (s *Signer) Sign(m *contracts.AttestationManifest) error {
	hash, err := manifestHash(m)
	if err != nil {
		return fmt.Errorf("manifest: sign: %w", err)
	}
	m.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, hash))
	return nil
}

// PublicKey returns the signer's public key, for distribution to verifiers.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Verify reports whether m's Signature is valid for its current content
// under publicKey. An unsigned manifest (empty Signature) never verifies.
func Verify(m *contracts.AttestationManifest, publicKey ed25519.PublicKey) error {
	if m.Signature == "" {
		return fmt.Errorf("manifest: verify: manifest is unsigned")
	}
	hash, err := manifestHash(m)
	if err != nil {
		return fmt.Errorf("manifest: verify: %w", err)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("manifest: verify: invalid signature encoding: %w", err)
	}
	if !ed25519.Verify(publicKey, hash, sigBytes) {
		return fmt.Errorf("manifest: verify: signature does not match")
	}
	return nil
}

// manifestHash computes the canonical hash of m excluding its own Signature
// field, the same exclude-the-signature-before-hashing pattern every
// sign/verify scheme in this codebase follows: a manifest cannot be made to
// sign over a signature it is itself producing.
func manifestHash(m *contracts.AttestationManifest) ([]byte, error) {
	unsigned := *m
	unsigned.Signature = ""
	canonical, err := canonicalize.JCS(unsigned)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}
