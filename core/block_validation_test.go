package core

import (
	"testing"

	"mina-node/internal/testutil"
)

func TestLoadVerifierIndexCacheRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Cleanup()

	payload := []byte("fake verifier index bytes")
	sourceDigest := blake2bSum([]byte("circuit-source-v1"))
	indexDigest := blake2bSum(payload)

	raw := make([]byte, 0, 64+len(payload))
	raw = append(raw, sourceDigest[:]...)
	raw = append(raw, indexDigest[:]...)
	raw = append(raw, payload...)

	if err := sb.WriteFile("verifier.idx", raw, 0o600); err != nil {
		t.Fatalf("write cache file: %v", err)
	}

	loaded, err := sb.ReadFile("verifier.idx")
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}

	cached, err := LoadVerifierIndexCache(loaded, sourceDigest)
	if err != nil {
		t.Fatalf("load verifier index cache: %v", err)
	}
	if string(cached.Data) != string(payload) {
		t.Fatalf("payload mismatch: got %q want %q", cached.Data, payload)
	}

	var wrongSource [32]byte
	if _, err := LoadVerifierIndexCache(loaded, wrongSource); err != ErrStaleVerifierCache {
		t.Fatalf("expected ErrStaleVerifierCache for mismatched source digest, got %v", err)
	}

	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)-1] ^= 0xFF
	if _, err := LoadVerifierIndexCache(corrupt, sourceDigest); err != ErrStaleVerifierCache {
		t.Fatalf("expected ErrStaleVerifierCache for corrupted payload, got %v", err)
	}

	if _, err := LoadVerifierIndexCache(raw[:10], sourceDigest); err == nil {
		t.Fatal("expected error for truncated cache file")
	}
}
