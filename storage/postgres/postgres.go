// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Consume is a single conditional UPDATE, so the database row lock gives the
// exactly-once guarantee across every server instance sharing the table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/portalguard/storage"
)

const uniqueViolation = "23505"

const recordColumns = `id, hash, assessment_id, issued_by, created_at, expires_at, consumed_at, redeemed_email`

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanRecord(row pgx.Row) (storage.CodeRecord, error) {
	var rec storage.CodeRecord
	err := row.Scan(&rec.ID, &rec.Hash, &rec.AssessmentID, &rec.IssuedBy,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.ConsumedAt, &rec.RedeemedEmail)
	return rec, err
}

func (s *Store) Put(ctx context.Context, rec storage.CodeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_codes (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Hash, rec.AssessmentID, rec.IssuedBy,
		rec.CreatedAt, rec.ExpiresAt, rec.ConsumedAt, rec.RedeemedEmail)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", rec.ID, storage.ErrExists)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (storage.CodeRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM access_codes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.CodeRecord{}, fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) GetByHash(ctx context.Context, hash string) (storage.CodeRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM access_codes WHERE hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.CodeRecord{}, storage.ErrNotFound
	}
	return rec, err
}

func (s *Store) Consume(ctx context.Context, hash string, now time.Time, redeemedEmail string) (storage.CodeRecord, error) {
	now = now.UTC()
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE access_codes SET consumed_at = $2, redeemed_email = $3
		 WHERE hash = $1 AND consumed_at IS NULL AND expires_at > $2
		 RETURNING `+recordColumns,
		hash, now, redeemedEmail))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return storage.CodeRecord{}, err
	}

	// Nothing updated; work out why for the caller.
	current, err := s.GetByHash(ctx, hash)
	if err != nil {
		return storage.CodeRecord{}, err
	}
	if err := storage.CheckConsumable(current, now); err != nil {
		return storage.CodeRecord{}, err
	}
	return storage.CodeRecord{}, storage.ErrConsumed
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM access_codes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListByAssessment(ctx context.Context, assessmentID string) ([]storage.CodeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM access_codes
		 WHERE assessment_id = $1 ORDER BY created_at`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.CodeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
