// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/portalguard/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu     sync.RWMutex
	byID   map[string]storage.CodeRecord
	byHash map[string]string // hash -> id
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		byID:   make(map[string]storage.CodeRecord),
		byHash: make(map[string]string),
	}
}

func cloneRecord(rec storage.CodeRecord) storage.CodeRecord {
	if rec.ConsumedAt != nil {
		t := *rec.ConsumedAt
		rec.ConsumedAt = &t
	}
	return rec
}

func (r *Repository) Put(_ context.Context, rec storage.CodeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rec.ID]; ok {
		return fmt.Errorf("%s: %w", rec.ID, storage.ErrExists)
	}
	if _, ok := r.byHash[rec.Hash]; ok {
		return fmt.Errorf("hash collision: %w", storage.ErrExists)
	}
	r.byID[rec.ID] = cloneRecord(rec)
	r.byHash[rec.Hash] = rec.ID
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (storage.CodeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return storage.CodeRecord{}, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (r *Repository) GetByHash(ctx context.Context, hash string) (storage.CodeRecord, error) {
	r.mu.RLock()
	id, ok := r.byHash[hash]
	r.mu.RUnlock()
	if !ok {
		return storage.CodeRecord{}, storage.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *Repository) Consume(_ context.Context, hash string, now time.Time, redeemedEmail string) (storage.CodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[hash]
	if !ok {
		return storage.CodeRecord{}, storage.ErrNotFound
	}
	rec := r.byID[id]
	if err := storage.CheckConsumable(rec, now); err != nil {
		return storage.CodeRecord{}, err
	}
	consumedAt := now.UTC()
	rec.ConsumedAt = &consumedAt
	rec.RedeemedEmail = redeemedEmail
	r.byID[id] = rec
	return cloneRecord(rec), nil
}

func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	delete(r.byID, id)
	delete(r.byHash, rec.Hash)
	return nil
}

func (r *Repository) ListByAssessment(_ context.Context, assessmentID string) ([]storage.CodeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []storage.CodeRecord
	for _, rec := range r.byID {
		if rec.AssessmentID == assessmentID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
