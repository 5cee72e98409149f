package keys

import (
	"crypto/rand"
	"fmt"
)

// keyAlphabet has 32 symbols, without 0/O and 1/I, so a random byte masked to
// five bits maps onto it without bias.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateKey returns a random key of the given length
func GenerateKey(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[b&0x1f]
	}
	return string(buf), nil
}
