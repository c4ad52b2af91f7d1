package signature_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestGenerateSecret(t *testing.T) {
	secret := signature.GenerateSecret()

	raw, ok := strings.CutPrefix(secret, signature.SecretPrefix)
	if !ok {
		t.Fatalf("secret %q lacks prefix %q", secret, signature.SecretPrefix)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		t.Fatalf("secret body is not hex: %v", err)
	}
	if len(b) != 32 {
		t.Errorf("secret carries %d random bytes, want 32", len(b))
	}
}

func TestGenerateSecretNeverRepeats(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		s := signature.GenerateSecret()
		if _, dup := seen[s]; dup {
			t.Fatalf("secret %q issued twice", s)
		}
		seen[s] = struct{}{}
	}
}

func TestGeneratedSecretSigns(t *testing.T) {
	secret := signature.GenerateSecret()
	body := []byte(`{"request_id":"r1"}`)

	sig, err := signature.Sign(secret, 1700000000, body)
	if err != nil {
		t.Fatal(err)
	}
	if !signature.Verify(secret, 1700000000, body, sig) {
		t.Error("signature made with a generated secret does not verify")
	}
}
