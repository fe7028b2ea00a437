package crypto

import (
	"crypto/rand"
	"fmt"
)

// joinCodeAlphabet excludes easily-confused characters (0/O, 1/I).
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandBytes fills the provided slice with cryptographically secure random
// bytes.
func RandBytes(out []byte) ([]byte, error) {
	if len(out) == 0 {
		return out, fmt.Errorf("output slice is empty")
	}
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("rand read: %w", err)
	}
	return out, nil
}

// NewJoinCode generates a short human-shareable squad join code.
func NewJoinCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	raw := make([]byte, length)
	if _, err := RandBytes(raw); err != nil {
		return "", err
	}
	code := make([]byte, length)
	for i, b := range raw {
		code[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(code), nil
}
