// Package signature implements the HMAC-SHA256 scheme used to sign webhook
// deliveries.
//
// The signed content is "<unix-seconds>.<raw body>" and the signature is the
// lowercase hex encoding of HMAC-SHA256(secret, content). Receivers rebuild the
// same string from the X-Webhook-Timestamp header and the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// ErrEmptySecret is returned when asked to sign without a secret. It
// indicates a broken endpoint record, never a receiver problem.
var ErrEmptySecret = errors.New("signature: empty secret")

// Sign computes the hex signature of body for the given unix timestamp.
func Sign(secret string, timestamp int64, body []byte) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	return hex.EncodeToString(mac(secret, timestamp, body)), nil
}

// Header builds the X-Webhook-Signature value for the given secrets, in
// order, separated by a single space. During a rotation grace window the
// current secret comes first and the previous one second.
func Header(secrets []string, timestamp int64, body []byte) (string, error) {
	if len(secrets) == 0 {
		return "", ErrEmptySecret
	}
	sigs := make([]string, 0, len(secrets))
	for _, s := range secrets {
		sig, err := Sign(s, timestamp, body)
		if err != nil {
			return "", err
		}
		sigs = append(sigs, sig)
	}
	return strings.Join(sigs, " "), nil
}

func mac(secret string, timestamp int64, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
