package hashcodec

import "testing"

func TestSumVerify(t *testing.T) {
	h := Sum([]byte("MALW"))
	if !Verify([]byte("MALW"), h) {
		t.Fatalf("Verify should succeed for the bytes that produced the hash")
	}
	if Verify([]byte("MALX"), h) {
		t.Fatalf("Verify should fail for different bytes")
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	h := Sum([]byte("ABCDEFGH"))
	s := h.String()
	got, err := ParseHash(s)
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: %s != %s", got, h)
	}
}

func TestParseHashRejectsBadLength(t *testing.T) {
	if _, err := ParseHash("deadbeef"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestCanonicalSequenceBytes(t *testing.T) {
	got := CanonicalSequenceBytes([]byte("ma lw\n"))
	if string(got) != "MALW" {
		t.Fatalf("got %q, want MALW", got)
	}
}

func TestLessTotalOrder(t *testing.T) {
	a := Sum([]byte("a"))
	b := Sum([]byte("b"))
	if Less(a, b) == Less(b, a) {
		t.Fatalf("Less must be a strict total order")
	}
}
