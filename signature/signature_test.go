package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/signature"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"request_id":"tor_123","status":"approved"}`)
	secret := "whsec_testsecret123"
	ts := int64(1700000000)

	got, err := signature.Sign(secret, ts, body)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(strconv.FormatInt(ts, 10) + "." + string(body)))
	want := hex.EncodeToString(m.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
	if len(got) != 64 {
		t.Errorf("len = %d, want 64", len(got))
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	a, _ := signature.Sign("s", 42, body)
	b, _ := signature.Sign("s", 42, body)
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}

	c, _ := signature.Sign("s", 43, body)
	d, _ := signature.Sign("t", 42, body)
	e, _ := signature.Sign("s", 42, []byte(`{"a":2}`))
	for _, other := range []string{c, d, e} {
		if other == a {
			t.Error("changing one input did not change the signature")
		}
	}
}

func TestSignEmptySecret(t *testing.T) {
	if _, err := signature.Sign("", 1, []byte("x")); !errors.Is(err, signature.ErrEmptySecret) {
		t.Errorf("err = %v, want ErrEmptySecret", err)
	}
	if _, err := signature.Header(nil, 1, []byte("x")); !errors.Is(err, signature.ErrEmptySecret) {
		t.Errorf("Header err = %v, want ErrEmptySecret", err)
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"data":"value"}`)
	sig, _ := signature.Sign("whsec_correct", 1700000003, body)

	if !signature.Verify("whsec_correct", 1700000003, body, sig) {
		t.Error("valid signature rejected")
	}
	if signature.Verify("whsec_wrong", 1700000003, body, sig) {
		t.Error("wrong secret accepted")
	}
	if signature.Verify("whsec_correct", 1700000004, body, sig) {
		t.Error("wrong timestamp accepted")
	}
	if signature.Verify("whsec_correct", 1700000003, []byte(`{"data":"other"}`), sig) {
		t.Error("tampered body accepted")
	}
	if signature.Verify("whsec_correct", 1700000003, body, "not-hex") {
		t.Error("garbage signature accepted")
	}
}

func TestHeaderDuringRotation(t *testing.T) {
	body := []byte(`{}`)
	h, err := signature.Header([]string{"new", "old"}, 10, body)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(h, " ")
	if len(parts) != 2 {
		t.Fatalf("header %q: want 2 signatures", h)
	}
	if !signature.Verify("new", 10, body, parts[0]) {
		t.Error("first signature should use the current secret")
	}
	if !signature.Verify("old", 10, body, parts[1]) {
		t.Error("second signature should use the previous secret")
	}
}

func TestVerifyHeader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"x":true}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	h, _ := signature.Header([]string{"new", "old"}, now.Unix(), body)

	if err := signature.VerifyHeader([]string{"old"}, ts, body, h, 0, now); err != nil {
		t.Errorf("receiver holding old secret: %v", err)
	}
	if err := signature.VerifyHeader([]string{"other"}, ts, body, h, 0, now); !errors.Is(err, signature.ErrSignatureMismatch) {
		t.Errorf("err = %v, want ErrSignatureMismatch", err)
	}
	late := now.Add(10 * time.Minute)
	if err := signature.VerifyHeader([]string{"new"}, ts, body, h, 0, late); !errors.Is(err, signature.ErrTimestampOutOfTolerance) {
		t.Errorf("err = %v, want ErrTimestampOutOfTolerance", err)
	}
	if err := signature.VerifyHeader([]string{"new"}, "", body, h, 0, now); !errors.Is(err, signature.ErrMissingHeader) {
		t.Errorf("err = %v, want ErrMissingHeader", err)
	}
}
