package signature

import (
	"strconv"
	"testing"
	"time"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// Calculated using: echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)

	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func testVerifier(allow []string) *Verifier {
	lookup := func(source string) string {
		if source == "n8n" {
			return "secret"
		}
		return ""
	}
	return NewVerifier(lookup, 300*time.Second, allow)
}

func TestVerifyValid(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte(`{"email":"jane@acme.com"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	verified, err := v.Verify("n8n", payload, Sign("secret", payload), ts)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !verified {
		t.Error("Verify() verified = false, want true")
	}
}

func TestVerifyUppercaseHex(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	sig := "B82FCB791ACEC57859B989B430A826488CE2E479FDF92326BD0A2E8375A42BA4"
	if _, err := v.Verify("n8n", payload, sig, ts); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	_, err := v.Verify("n8n", payload, Sign("wrong-secret", payload), ts)
	if err != ErrInvalidSignature {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyTamperedBody(t *testing.T) {
	v := testVerifier(nil)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := Sign("secret", []byte(`{"amount":10}`))

	_, err := v.Verify("n8n", []byte(`{"amount":9999}`), sig, ts)
	if err != ErrInvalidSignature {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")

	cases := []struct {
		name  string
		delta int64
	}{
		{"too old", -301},
		{"too far ahead", 301},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := strconv.FormatInt(time.Now().Unix()+tc.delta, 10)
			_, err := v.Verify("n8n", payload, Sign("secret", payload), ts)
			if err != ErrStaleTimestamp {
				t.Errorf("Verify() error = %v, want ErrStaleTimestamp", err)
			}
		})
	}
}

func TestVerifyBoundaryTimestamp(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")
	ts := strconv.FormatInt(time.Now().Unix()-299, 10)

	if _, err := v.Verify("n8n", payload, Sign("secret", payload), ts); err != nil {
		t.Errorf("Verify() error = %v, want nil inside window", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	v := testVerifier(nil)

	_, err := v.Verify("n8n", []byte("payload"), "", "")
	if err != ErrMissingSignature {
		t.Errorf("Verify() error = %v, want ErrMissingSignature", err)
	}
}

func TestVerifyAllowUnverified(t *testing.T) {
	v := testVerifier([]string{"legacy-forms"})

	verified, err := v.Verify("legacy-forms", []byte("payload"), "", "")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if verified {
		t.Error("Verify() verified = true for unsigned allow-listed event, want false")
	}

	// A signature from an allow-listed source is still checked.
	if _, err := v.Verify("legacy-forms", []byte("payload"), "deadbeef", strconv.FormatInt(time.Now().Unix(), 10)); err != ErrUnknownSource {
		t.Errorf("Verify() error = %v, want ErrUnknownSource", err)
	}
}

func TestVerifyMissingTimestamp(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")

	_, err := v.Verify("n8n", payload, Sign("secret", payload), "")
	if err != ErrMissingTimestamp {
		t.Errorf("Verify() error = %v, want ErrMissingTimestamp", err)
	}
}

func TestVerifyGarbageTimestamp(t *testing.T) {
	v := testVerifier(nil)
	payload := []byte("payload")

	_, err := v.Verify("n8n", payload, Sign("secret", payload), "yesterday")
	if err != ErrBadTimestamp {
		t.Errorf("Verify() error = %v, want ErrBadTimestamp", err)
	}
}
