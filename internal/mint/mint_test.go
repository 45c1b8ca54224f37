package mint

import (
	"testing"

	"github.com/google/uuid"
)

func TestSignVerify_Roundtrip(t *testing.T) {
	s := NewSigner([]byte("mint-secret"))
	assetID, jobID := uuid.New(), uuid.New()

	sig := s.Sign(assetID, jobID)
	if sig == "" {
		t.Fatal("empty signature")
	}
	if !s.Verify(assetID, jobID, sig) {
		t.Error("signature should verify against the signing ids")
	}
}

func TestSign_Deterministic(t *testing.T) {
	s := NewSigner([]byte("mint-secret"))
	assetID, jobID := uuid.New(), uuid.New()
	if s.Sign(assetID, jobID) != s.Sign(assetID, jobID) {
		t.Error("same inputs must produce the same proof")
	}
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	s := NewSigner([]byte("mint-secret"))
	assetID, jobID := uuid.New(), uuid.New()

	sig := s.Sign(assetID, jobID)
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	if s.Verify(assetID, jobID, string(tampered)) {
		t.Error("tampered signature verified")
	}
	if s.Verify(assetID, jobID, "") {
		t.Error("empty signature verified")
	}
}

func TestVerify_RejectsWrongIDs(t *testing.T) {
	s := NewSigner([]byte("mint-secret"))
	assetID, jobID := uuid.New(), uuid.New()
	sig := s.Sign(assetID, jobID)

	if s.Verify(uuid.New(), jobID, sig) {
		t.Error("proof verified against a different asset")
	}
	if s.Verify(assetID, uuid.New(), sig) {
		t.Error("proof verified against a different job")
	}
	// The pair is ordered: swapping asset and job ids invalidates the proof.
	if s.Verify(jobID, assetID, sig) {
		t.Error("proof verified with swapped ids")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	assetID, jobID := uuid.New(), uuid.New()
	sig := NewSigner([]byte("mint-secret")).Sign(assetID, jobID)
	if NewSigner([]byte("other-secret")).Verify(assetID, jobID, sig) {
		t.Error("proof verified under a different secret")
	}
}
