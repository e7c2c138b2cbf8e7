package manifest

import (
	"crypto/ed25519"
	"testing"

	"github.com/bhagyabanghadai/dhi/pkg/contracts"
)

func testManifest() *contracts.AttestationManifest {
	return &contracts.AttestationManifest{
		RequestID:       "req-1",
		CandidateID:     "cand-1",
		FingerprintHash: "hash-1",
		Tier:            contracts.TierL1,
		AttemptCount:    1,
		FailureClass:    contracts.FailureNone,
		ArtifactRefs:    []string{},
		FinalStatus:     contracts.StatusVerified,
		SchemaVersion:   contracts.SchemaVersion,
	}
}

func TestSign_ProducesVerifiableSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewSigner(priv)
	m := testManifest()

	if err := signer.Sign(m); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if m.Signature == "" {
		t.Fatal("expected non-empty signature")
	}
	if err := Verify(m, pub); err != nil {
		t.Fatalf("expected signature to verify, got: %v", err)
	}
}

func TestSign_IsDeterministic(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	signer := NewSigner(priv)

	m1 := testManifest()
	m2 := testManifest()
	if err := signer.Sign(m1); err != nil {
		t.Fatalf("sign m1: %v", err)
	}
	if err := signer.Sign(m2); err != nil {
		t.Fatalf("sign m2: %v", err)
	}
	if m1.Signature != m2.Signature {
		t.Fatal("expected identical signatures for identical manifest content")
	}
}

func TestVerify_FailsAfterTamper(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	signer := NewSigner(priv)
	m := testManifest()
	if err := signer.Sign(m); err != nil {
		t.Fatalf("sign: %v", err)
	}

	m.Tier = contracts.TierL2
	if err := Verify(m, pub); err == nil {
		t.Fatal("expected verification to fail after tampering with signed content")
	}
}

func TestVerify_FailsWithWrongKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	signer := NewSigner(priv)
	m := testManifest()
	if err := signer.Sign(m); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := Verify(m, otherPub); err == nil {
		t.Fatal("expected verification to fail with a mismatched public key")
	}
}

func TestVerify_UnsignedManifestNeverVerifies(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	m := testManifest()
	if err := Verify(m, pub); err == nil {
		t.Fatal("expected verification to fail for an unsigned manifest")
	}
}
