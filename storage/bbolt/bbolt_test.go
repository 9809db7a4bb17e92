package bbolt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/portalguard/storage/storagetest"
)

func newTestDB(t *testing.T) (*bbolt.DB, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "codes-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		os.Remove(path)
		t.Fatalf("could not open db: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(path)
	}
}

func TestBBoltRepository(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	s, err := NewRepository(db)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	storagetest.Run(t, s)
}

func TestConsumptionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.db")
	ctx := context.Background()

	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("NewRepositoryFromFile failed: %v", err)
	}
	if err := s.Put(ctx, storagetest.NewRecord("r1", "h1", "asmt")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Consume(ctx, "h1", time.Now(), "iv:tag:ct"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	rec, err := s.GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if !rec.Consumed() {
		t.Fatal("consumption must survive a restart")
	}
}
