package pii

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jmcleod/portalguard/internal/util"
)

const envelopeSeparator = ":"

// Envelope is a sealed PII value: the 96-bit IV, the 128-bit GCM tag and
// the ciphertext.
type Envelope struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// String encodes the envelope as colon-delimited lowercase hex segments,
// iv:tag:ciphertext.
func (e Envelope) String() string {
	return hex.EncodeToString(e.IV) + envelopeSeparator +
		hex.EncodeToString(e.Tag) + envelopeSeparator +
		hex.EncodeToString(e.Ciphertext)
}

// ParseEnvelope decodes the iv:tag:ciphertext form. The IV and tag must have
// their exact sizes; the ciphertext may be empty.
func ParseEnvelope(s string) (Envelope, error) {
	parts := strings.Split(s, envelopeSeparator)
	if len(parts) != 3 {
		return Envelope{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedEnvelope, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != util.GCMNonceSize {
		return Envelope{}, fmt.Errorf("%w: bad iv", ErrMalformedEnvelope)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != util.GCMTagSize {
		return Envelope{}, fmt.Errorf("%w: bad tag", ErrMalformedEnvelope)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad ciphertext", ErrMalformedEnvelope)
	}

	return Envelope{IV: iv, Tag: tag, Ciphertext: ct}, nil
}
