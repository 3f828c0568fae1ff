package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	// Running a second time must be a no-op.
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := SetKV(ctx, db, "test-kv-key", "v1"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	got, err := GetKV(ctx, db, "test-kv-key")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if got != "v1" {
		t.Errorf("GetKV = %q, want %q", got, "v1")
	}

	// Upsert overwrites.
	if err := SetKV(ctx, db, "test-kv-key", "v2"); err != nil {
		t.Fatalf("SetKV update: %v", err)
	}
	got, err = GetKV(ctx, db, "test-kv-key")
	if err != nil {
		t.Fatalf("GetKV after update: %v", err)
	}
	if got != "v2" {
		t.Errorf("GetKV after update = %q, want %q", got, "v2")
	}
}

func TestGetKVMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := GetKV(context.Background(), db, "no-such-key")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if got != "" {
		t.Errorf("GetKV missing key = %q, want empty", got)
	}
}
