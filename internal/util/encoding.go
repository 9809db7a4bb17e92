package util

import (
	"encoding/hex"
	"fmt"
	"strings"
)

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// HexDecodeExact decodes s and requires exactly size bytes of output.
// Surrounding whitespace is ignored so keys pasted into env files work.
func HexDecodeExact(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != size*2 {
		return nil, fmt.Errorf("expected %d hex characters, got %d", size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
