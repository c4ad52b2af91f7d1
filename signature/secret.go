package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// SecretPrefix marks strings issued by GenerateSecret.
const SecretPrefix = "whsec_"

// GenerateSecret returns a fresh signing secret: SecretPrefix followed by
// 32 random bytes in hex.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("signature: read random bytes: " + err.Error())
	}
	return SecretPrefix + hex.EncodeToString(b)
}
