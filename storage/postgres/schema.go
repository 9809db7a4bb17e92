package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS access_codes (
	id             TEXT PRIMARY KEY,
	hash           TEXT NOT NULL UNIQUE,
	assessment_id  TEXT NOT NULL,
	issued_by      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	consumed_at    TIMESTAMPTZ,
	redeemed_email TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS access_codes_assessment_idx ON access_codes (assessment_id);
`

// EnsureSchema creates the access_codes table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
