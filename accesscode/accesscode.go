// Package accesscode issues and verifies one-time enrollment codes for
// assessments.
//
// Only the SHA-256 digest of a code is ever meant to be stored. Recording
// consumption is the caller's job; this package produces and compares
// values only.
package accesscode

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/portalguard/internal/util"
	"github.com/jmcleod/portalguard/storage"
)

const (
	// Length is the number of characters in a generated code.
	Length = 12

	MinValidity     = 24 * time.Hour
	MaxValidity     = 30 * 24 * time.Hour
	DefaultValidity = 7 * 24 * time.Hour
)

// ErrInvalidValidity is returned by Issue when the requested lifetime is
// outside [MinValidity, MaxValidity].
var ErrInvalidValidity = errors.New("access code validity must be between 1 and 30 days")

// Generate returns a fresh code of Length characters drawn uniformly from
// util.UnambiguousAlphabet with crypto/rand.
func Generate() (string, error) {
	code, err := util.RandomChars(Length)
	if err != nil {
		return "", fmt.Errorf("generating access code: %w", err)
	}
	return code, nil
}

// Hash returns the hex SHA-256 digest of code.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Verify hashes supplied and compares it to storedHash in constant time.
func Verify(supplied, storedHash string) bool {
	if supplied == "" || len(storedHash) != sha256.Size*2 {
		return false
	}
	candidate := Hash(supplied)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

// Code is a freshly issued access code. Plaintext must be shown to the
// issuer once and then discarded.
type Code struct {
	ID           string
	Plaintext    string
	Hash         string
	AssessmentID string
	IssuedBy     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Issue generates a code for an assessment valid for the given duration.
// A zero validity selects DefaultValidity.
func Issue(assessmentID, issuedBy string, validity time.Duration) (Code, error) {
	return IssueAt(assessmentID, issuedBy, validity, time.Now())
}

// IssueAt is Issue with the issue time supplied by the caller's clock.
func IssueAt(assessmentID, issuedBy string, validity time.Duration, now time.Time) (Code, error) {
	if validity == 0 {
		validity = DefaultValidity
	}
	if validity < MinValidity || validity > MaxValidity {
		return Code{}, ErrInvalidValidity
	}
	if assessmentID == "" {
		return Code{}, errors.New("access code requires an assessment id")
	}

	plain, err := Generate()
	if err != nil {
		return Code{}, err
	}
	now = now.UTC()
	return Code{
		ID:           uuid.NewString(),
		Plaintext:    plain,
		Hash:         Hash(plain),
		AssessmentID: assessmentID,
		IssuedBy:     issuedBy,
		IssuedAt:     now,
		ExpiresAt:    now.Add(validity),
	}, nil
}

// String redacts the plaintext so a Code can be logged safely.
func (c Code) String() string {
	return fmt.Sprintf("accesscode{assessment=%s hash=%s… expires=%s}",
		c.AssessmentID, c.Hash[:min(8, len(c.Hash))], c.ExpiresAt.Format(time.RFC3339))
}

// Record is the persistable form of c. It carries the hash only.
func (c Code) Record() storage.CodeRecord {
	return storage.CodeRecord{
		ID:           c.ID,
		Hash:         c.Hash,
		AssessmentID: c.AssessmentID,
		IssuedBy:     c.IssuedBy,
		CreatedAt:    c.IssuedAt,
		ExpiresAt:    c.ExpiresAt,
	}
}

// Normalize canonicalizes user input before hashing: surrounding space,
// embedded spaces and dashes are dropped and letters upper-cased, so
// "abcd-efgh-jkmn" and "ABCDEFGHJKMN" are the same code.
func Normalize(input string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, input)
}
