package hashcodec

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("ACGTACGTACGT"), 1000)
	compressed := Compress(data, LevelDefault)
	if len(compressed) >= len(data) {
		t.Fatalf("expected compression to shrink repetitive input")
	}
	got, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not zstd")); err == nil {
		t.Fatalf("expected error decompressing non-zstd data")
	}
}
