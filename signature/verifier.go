package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the clock skew accepted by VerifyHeader.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingHeader           = errors.New("signature: missing signature or timestamp header")
	ErrTimestampOutOfTolerance = errors.New("signature: timestamp outside tolerance")
	ErrSignatureMismatch       = errors.New("signature: no matching signature")
)

// Verify reports whether sig is the signature of body under secret and
// timestamp. The comparison is constant time.
func Verify(secret string, timestamp int64, body []byte, sig string) bool {
	if secret == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, timestamp, body))
}

// VerifyHeader checks a received delivery the way a receiver should: the
// timestamp must be within tolerance of now, and at least one of the
// space-separated signatures must match one of the receiver's secrets.
// A non-positive tolerance uses DefaultTolerance.
func VerifyHeader(secrets []string, timestampHeader string, body []byte, signatureHeader string, tolerance time.Duration, now time.Time) error {
	if timestampHeader == "" || signatureHeader == "" {
		return ErrMissingHeader
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return ErrMissingHeader
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < -tolerance || skew > tolerance {
		return ErrTimestampOutOfTolerance
	}

	for _, sig := range strings.Fields(signatureHeader) {
		for _, secret := range secrets {
			if Verify(secret, ts, body, sig) {
				return nil
			}
		}
	}
	return ErrSignatureMismatch
}
