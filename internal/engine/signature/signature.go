package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Header names shared by inbound verification and outbound dispatch.
const (
	HeaderSignature = "X-Leadgen-Signature"
	HeaderTimestamp = "X-Leadgen-Timestamp"
	HeaderEvent     = "X-Leadgen-Event"
	HeaderDelivery  = "X-Leadgen-Delivery"
)

var (
	ErrMissingSignature = errors.New("signature header missing")
	ErrMissingTimestamp = errors.New("timestamp header missing")
	ErrBadTimestamp     = errors.New("timestamp is not a unix time")
	ErrStaleTimestamp   = errors.New("timestamp outside freshness window")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrUnknownSource    = errors.New("no secret configured for source")
)

func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SecretLookup resolves the shared secret for a source. Empty string
// means the source has no secret configured.
type SecretLookup func(source string) string

type Verifier struct {
	secrets         SecretLookup
	window          time.Duration
	allowUnverified map[string]bool
	now             func() time.Time
}

func NewVerifier(secrets SecretLookup, window time.Duration, allowUnverified []string) *Verifier {
	allow := make(map[string]bool, len(allowUnverified))
	for _, s := range allowUnverified {
		allow[s] = true
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Verifier{secrets: secrets, window: window, allowUnverified: allow, now: time.Now}
}

// Verify checks the signature and timestamp headers against the raw
// request body. The raw body is the signed message. Returns whether the
// event counts as verified; an allow-listed source passes unverified
// when it sends no signature at all.
func (v *Verifier) Verify(source string, payload []byte, sigHeader, tsHeader string) (bool, error) {
	if sigHeader == "" {
		if v.allowUnverified[source] {
			return false, nil
		}
		return false, ErrMissingSignature
	}

	secret := v.secrets(source)
	if secret == "" {
		return false, ErrUnknownSource
	}

	if tsHeader == "" {
		return false, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false, ErrBadTimestamp
	}
	drift := v.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(v.window/time.Second) {
		return false, ErrStaleTimestamp
	}

	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sigHeader))) {
		return false, ErrInvalidSignature
	}
	return true, nil
}
