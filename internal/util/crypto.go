// Package util holds small credential helpers shared by the bridge
// gate, the hub, and the password-hashing script.
package util

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// IsBcryptHash reports whether a configured secret is a bcrypt hash
// rather than a plaintext password.
func IsBcryptHash(s string) bool {
	return len(s) > 4 && s[0] == '$' && (s[1:4] == "2a$" || s[1:4] == "2b$" || s[1:4] == "2y$")
}

// MaskCode redacts a pairing code for logs, keeping enough to correlate.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}
