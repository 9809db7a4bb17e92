package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// UnambiguousAlphabet omits characters that are easy to misread when typed
// from a printed or emailed code: 0/O, 1/I and U.
const UnambiguousAlphabet = "23456789ABCDEFGHJKLMNPQRSTVWXYZ"

// RandomChars draws n characters uniformly from UnambiguousAlphabet using
// crypto/rand.
func RandomChars(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(len(UnambiguousAlphabet))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteByte(UnambiguousAlphabet[idx])
	}
	return sb.String(), nil
}

func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
