package events

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// EnvSecretHash returns hex(BLAKE2b-256(environment + secret)), the value a
// control envelope must carry in payload.envSecretHash.
func EnvSecretHash(environment, secret string) string {
	sum := blake2b.Sum256([]byte(environment + secret))
	return hex.EncodeToString(sum[:])
}

// verifyEnvSecretHash compares got against the locally computed hash in
// constant time. An unset secret never verifies.
func verifyEnvSecretHash(environment, secret, got string) bool {
	if secret == "" || got == "" {
		return false
	}
	want := EnvSecretHash(environment, secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
