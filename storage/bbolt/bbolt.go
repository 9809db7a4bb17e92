// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/portalguard/storage"
)

var (
	codesBucket  = []byte("access_codes")
	hashesBucket = []byte("access_code_hashes")
)

// Store implements storage.Repository backed by a BBolt database.
//
// Records are JSON documents keyed by ID; a second bucket maps code hash to
// ID. BBolt serialises write transactions, which makes Consume atomic.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(codesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(hashesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getRecord(tx *bbolt.Tx, id string) (storage.CodeRecord, error) {
	var rec storage.CodeRecord
	data := tx.Bucket(codesBucket).Get([]byte(id))
	if data == nil {
		return rec, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return rec, nil
}

func putRecord(tx *bbolt.Tx, rec storage.CodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(codesBucket).Put([]byte(rec.ID), data)
}

func (s *Store) Put(_ context.Context, rec storage.CodeRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(codesBucket).Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%s: %w", rec.ID, storage.ErrExists)
		}
		hashes := tx.Bucket(hashesBucket)
		if hashes.Get([]byte(rec.Hash)) != nil {
			return fmt.Errorf("hash collision: %w", storage.ErrExists)
		}
		if err := putRecord(tx, rec); err != nil {
			return err
		}
		return hashes.Put([]byte(rec.Hash), []byte(rec.ID))
	})
}

func (s *Store) Get(_ context.Context, id string) (storage.CodeRecord, error) {
	var rec storage.CodeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getRecord(tx, id)
		return err
	})
	return rec, err
}

func (s *Store) GetByHash(_ context.Context, hash string) (storage.CodeRecord, error) {
	var rec storage.CodeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(hashesBucket).Get([]byte(hash))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, string(id))
		return err
	})
	return rec, err
}

func (s *Store) Consume(_ context.Context, hash string, now time.Time, redeemedEmail string) (storage.CodeRecord, error) {
	var rec storage.CodeRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		id := tx.Bucket(hashesBucket).Get([]byte(hash))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, string(id))
		if err != nil {
			return err
		}
		if err := storage.CheckConsumable(rec, now); err != nil {
			return err
		}
		consumedAt := now.UTC()
		rec.ConsumedAt = &consumedAt
		rec.RedeemedEmail = redeemedEmail
		return putRecord(tx, rec)
	})
	if err != nil {
		return storage.CodeRecord{}, err
	}
	return rec, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(hashesBucket).Delete([]byte(rec.Hash)); err != nil {
			return err
		}
		return tx.Bucket(codesBucket).Delete([]byte(id))
	})
}

func (s *Store) ListByAssessment(_ context.Context, assessmentID string) ([]storage.CodeRecord, error) {
	var out []storage.CodeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(codesBucket).ForEach(func(_, v []byte) error {
			var rec storage.CodeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.AssessmentID == assessmentID {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
