package validation

import "testing"

func TestValidateAddr(t *testing.T) {
	if err := ValidateAddr("127.0.0.1:8080"); err != nil {
		t.Fatalf("expected valid addr to pass: %v", err)
	}
	if err := ValidateAddr(""); err == nil {
		t.Fatalf("expected empty addr to fail")
	}
	if err := ValidateAddr("not an addr"); err == nil {
		t.Fatalf("expected malformed addr to fail")
	}
}

func TestValidateRangeInt(t *testing.T) {
	if err := ValidateRangeInt(5, 1, 10); err != nil {
		t.Fatalf("expected in-range value to pass: %v", err)
	}
	if err := ValidateRangeInt(11, 1, 10); err == nil {
		t.Fatalf("expected out-of-range value to fail")
	}
}

func TestValidateFilePath(t *testing.T) {
	if err := ValidateFilePath("", false); err == nil {
		t.Fatalf("expected empty path to fail")
	}
	if err := ValidateFilePath("/nonexistent/path/xyz", true); err == nil {
		t.Fatalf("expected mustExist to fail on missing path")
	}
	if err := ValidateFilePath("/tmp", true); err != nil {
		t.Fatalf("expected /tmp to exist: %v", err)
	}
}
