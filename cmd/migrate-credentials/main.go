// Package main provides a CLI tool to migrate stored chat credentials from
// plaintext to encrypted storage.
//
// It encrypts every credential row where encryption_version=0 (plaintext) to
// version=1 (AES-256-GCM). Requires ENCRYPTION_KEY to be set.
//
// Usage:
//
//	migrate-credentials [--dry-run]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/onnwee/request-tender/crypto"
)

type credentialRow struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := migrateCredentials(ctx, database, enc, *dryRun); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrateCredentials encrypts all plaintext credentials (encryption_version=0).
func migrateCredentials(ctx context.Context, database *sql.DB, enc crypto.Encryptor, dryRun bool) error {
	rows, err := database.QueryContext(ctx, `
		SELECT provider, access_token, refresh_token, expires_at, scope
		FROM credentials
		WHERE encryption_version = 0
		ORDER BY provider`)
	if err != nil {
		return fmt.Errorf("query plaintext credentials: %w", err)
	}
	defer rows.Close()

	var creds []credentialRow
	for rows.Next() {
		var c credentialRow
		if err := rows.Scan(&c.Provider, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope); err != nil {
			return fmt.Errorf("scan credential row: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate credential rows: %w", err)
	}

	if len(creds) == 0 {
		slog.Info("no plaintext credentials found to migrate")
		return nil
	}
	slog.Info("found plaintext credentials to migrate", slog.Int("count", len(creds)), slog.Bool("dry_run", dryRun))

	migrated, errored := 0, 0
	for _, c := range creds {
		logger := slog.With(slog.String("provider", c.Provider))
		if dryRun {
			logger.Info("would migrate credential (dry-run)")
			migrated++
			continue
		}
		if err := migrateOne(ctx, database, enc, c); err != nil {
			logger.Error("failed to migrate credential", slog.Any("error", err))
			errored++
			continue
		}
		logger.Info("migrated credential")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(creds)),
		slog.Int("migrated", migrated),
		slog.Int("errors", errored),
		slog.Bool("dry_run", dryRun))

	if errored > 0 {
		return fmt.Errorf("migration completed with %d errors", errored)
	}
	return nil
}

func migrateOne(ctx context.Context, database *sql.DB, enc crypto.Encryptor, c credentialRow) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is best effort

	var encAccess, encRefresh string
	if c.AccessToken != "" {
		if encAccess, err = crypto.EncryptString(enc, c.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
	}
	if c.RefreshToken != "" {
		if encRefresh, err = crypto.EncryptString(enc, c.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE credentials
		SET access_token = $1,
		    refresh_token = $2,
		    encryption_version = 1,
		    encryption_key_id = 'default'
		WHERE provider = $3 AND encryption_version = 0`,
		encAccess, encRefresh, c.Provider)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (credential may have been modified concurrently)", n)
	}
	return tx.Commit()
}
