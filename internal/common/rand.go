package common

import (
	"crypto/rand"
	"encoding/hex"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandBase36 returns a random string of length n drawn from the base36
// alphabet. Used for guest identity suffixes.
func RandBase36(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(b)
}

// MakeRandHexString generates a random hexadecimal string from size random
// bytes; the result is twice size characters long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Useful for removing passwords from memory after use. A nil slice is
// a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
