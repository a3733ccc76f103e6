package util

import "testing"

func TestVerifyHMACSHA256(t *testing.T) {
	body := []byte(`{"event":"User.Created"}`)
	signature := SignHMACSHA256("signing-key", body)

	if !VerifyHMACSHA256("signing-key", body, signature) {
		t.Fatalf("expected valid signature")
	}
	if VerifyHMACSHA256("other-key", body, signature) {
		t.Fatalf("expected signature from another key to fail")
	}
	if VerifyHMACSHA256("signing-key", append(body, ' '), signature) {
		t.Fatalf("expected tampered body to fail")
	}
	if VerifyHMACSHA256("signing-key", body, "not-hex") {
		t.Fatalf("expected malformed signature to fail")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Fatalf("expected equal secrets to match")
	}
	if SecureCompare("abc", "abd") || SecureCompare("", "") {
		t.Fatalf("expected mismatch")
	}
}
