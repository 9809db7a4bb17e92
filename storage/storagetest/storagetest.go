// Package storagetest provides a conformance suite shared by every
// storage.Repository backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmcleod/portalguard/storage"
)

// NewRecord returns a valid unconsumed record expiring in a week.
func NewRecord(id, hash, assessmentID string) storage.CodeRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return storage.CodeRecord{
		ID:           id,
		Hash:         hash,
		AssessmentID: assessmentID,
		IssuedBy:     "recruiter-1",
		CreatedAt:    now,
		ExpiresAt:    now.Add(7 * 24 * time.Hour),
	}
}

// Run exercises repo against the storage.Repository contract. repo must be
// empty when Run starts.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		rec := NewRecord("id-1", "hash-1", "asmt-1")
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, "id-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Hash != "hash-1" || got.AssessmentID != "asmt-1" || got.Consumed() {
			t.Fatalf("unexpected record %+v", got)
		}
		byHash, err := repo.GetByHash(ctx, "hash-1")
		if err != nil {
			t.Fatalf("GetByHash failed: %v", err)
		}
		if byHash.ID != "id-1" {
			t.Fatalf("GetByHash returned %q, want id-1", byHash.ID)
		}
	})

	t.Run("PutDuplicate", func(t *testing.T) {
		err := repo.Put(ctx, NewRecord("id-1", "hash-other", "asmt-1"))
		if !errors.Is(err, storage.ErrExists) {
			t.Fatalf("duplicate id: expected ErrExists, got %v", err)
		}
		err = repo.Put(ctx, NewRecord("id-other", "hash-1", "asmt-1"))
		if !errors.Is(err, storage.ErrExists) {
			t.Fatalf("duplicate hash: expected ErrExists, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := repo.Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetByHash(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		rec := NewRecord("id-consume", "hash-consume", "asmt-2")
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		now := time.Now().UTC()
		got, err := repo.Consume(ctx, "hash-consume", now, "iv:tag:ct")
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if !got.Consumed() || got.RedeemedEmail != "iv:tag:ct" {
			t.Fatalf("unexpected consumed record %+v", got)
		}
		if _, err := repo.Consume(ctx, "hash-consume", now, "other"); !errors.Is(err, storage.ErrConsumed) {
			t.Fatalf("second Consume: expected ErrConsumed, got %v", err)
		}
		stored, err := repo.Get(ctx, "id-consume")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !stored.Consumed() || stored.RedeemedEmail != "iv:tag:ct" {
			t.Fatalf("consumption not persisted: %+v", stored)
		}
	})

	t.Run("ConsumeExpired", func(t *testing.T) {
		rec := NewRecord("id-expired", "hash-expired", "asmt-2")
		rec.ExpiresAt = rec.CreatedAt.Add(time.Hour)
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		_, err := repo.Consume(ctx, "hash-expired", rec.ExpiresAt, "")
		if !errors.Is(err, storage.ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	})

	t.Run("ConsumeMissing", func(t *testing.T) {
		_, err := repo.Consume(ctx, "hash-missing", time.Now(), "")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ConsumeConcurrent", func(t *testing.T) {
		rec := NewRecord("id-race", "hash-race", "asmt-3")
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		var (
			wg       sync.WaitGroup
			success  atomic.Int32
			consumed atomic.Int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Consume(ctx, "hash-race", time.Now().UTC(), fmt.Sprintf("email-%d", i))
				switch {
				case err == nil:
					success.Add(1)
				case errors.Is(err, storage.ErrConsumed):
					consumed.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if success.Load() != 1 {
			t.Fatalf("expected exactly one successful consume, got %d", success.Load())
		}
		if consumed.Load() != 19 {
			t.Fatalf("expected 19 ErrConsumed, got %d", consumed.Load())
		}
	})

	t.Run("ListByAssessment", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := NewRecord(fmt.Sprintf("list-%d", i), fmt.Sprintf("list-hash-%d", i), "asmt-list")
			if err := repo.Put(ctx, rec); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		recs, err := repo.ListByAssessment(ctx, "asmt-list")
		if err != nil {
			t.Fatalf("ListByAssessment failed: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("expected 3 records, got %d", len(recs))
		}
		none, err := repo.ListByAssessment(ctx, "asmt-none")
		if err != nil {
			t.Fatalf("ListByAssessment failed: %v", err)
		}
		if len(none) != 0 {
			t.Fatalf("expected no records, got %d", len(none))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := NewRecord("id-del", "hash-del", "asmt-4")
		if err := repo.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := repo.Delete(ctx, "id-del"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, "id-del"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if _, err := repo.GetByHash(ctx, "hash-del"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected hash index cleared after delete, got %v", err)
		}
		if err := repo.Delete(ctx, "id-del"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
		}
	})
}
