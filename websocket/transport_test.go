package websocket

import "testing"

func TestPinningVerifierAcceptsMatch(t *testing.T) {
	pinned := [][]byte{{0xAA, 0xBB}, {0xCC, 0xDD}}
	verify := pinningVerifier(pinned)
	if err := verify([][]byte{{0xCC, 0xDD}}, nil); err != nil {
		t.Fatalf("expected pinned certificate to verify, got %v", err)
	}
}

func TestPinningVerifierRejectsMismatch(t *testing.T) {
	pinned := [][]byte{{0xAA, 0xBB}}
	verify := pinningVerifier(pinned)
	if err := verify([][]byte{{0x11, 0x22}}, nil); err == nil {
		t.Fatal("expected an unpinned certificate to be rejected")
	}
}

func TestPinningVerifierRejectsEmptyChain(t *testing.T) {
	verify := pinningVerifier([][]byte{{0xAA}})
	if err := verify(nil, nil); err == nil {
		t.Fatal("expected an empty certificate chain to be rejected")
	}
}
