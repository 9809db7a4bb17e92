// Package storage defines persistence for access-code records.
//
// Records hold the SHA-256 digest of a code, never the plaintext. The
// redeemed candidate's email, when present, is a PII envelope produced by
// package pii.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("access code not found")
	ErrExists   = errors.New("access code already exists")
	ErrConsumed = errors.New("access code already consumed")
	ErrExpired  = errors.New("access code expired")
)

// CodeRecord is the persisted form of an issued access code.
type CodeRecord struct {
	ID            string     `json:"id"`
	Hash          string     `json:"hash"`
	AssessmentID  string     `json:"assessment_id"`
	IssuedBy      string     `json:"issued_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
	RedeemedEmail string     `json:"redeemed_email,omitempty"`
}

// Consumed reports whether the code has been redeemed.
func (r CodeRecord) Consumed() bool {
	return r.ConsumedAt != nil
}

// CheckConsumable returns the error Consume must report for rec at now, or
// nil when the record may be consumed.
func CheckConsumable(rec CodeRecord, now time.Time) error {
	if rec.Consumed() {
		return ErrConsumed
	}
	if !now.Before(rec.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Repository persists access-code records.
//
// Consume must be atomic: for a given hash, at most one call ever
// succeeds, no matter how many run concurrently.
type Repository interface {
	Put(ctx context.Context, rec CodeRecord) error
	Get(ctx context.Context, id string) (CodeRecord, error)
	GetByHash(ctx context.Context, hash string) (CodeRecord, error)
	Consume(ctx context.Context, hash string, now time.Time, redeemedEmail string) (CodeRecord, error)
	Delete(ctx context.Context, id string) error
	ListByAssessment(ctx context.Context, assessmentID string) ([]CodeRecord, error)
}
