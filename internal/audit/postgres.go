package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var validContentTypes = map[string]bool{
	"text":  true,
	"image": true,
}

// PostgresLog stores kick records in the kick_audit table.
type PostgresLog struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema migrations to dsn.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("audit: migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// NewPostgresLog creates a recorder backed by db.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// RecordKick inserts rec.
func (p *PostgresLog) RecordKick(ctx context.Context, rec KickRecord) error {
	if !validContentTypes[rec.ContentType] {
		return fmt.Errorf("audit: invalid content type %q", rec.ContentType)
	}

	const query = `
		INSERT INTO kick_audit (group_id, user_id, content_type, reason, kicked_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := p.db.ExecContext(ctx, query, rec.GroupID, rec.UserID, rec.ContentType, rec.Reason, rec.At); err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns how many times a user was kicked from a group within
// the trailing window.
func (p *PostgresLog) CountRecent(ctx context.Context, groupID, userID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM kick_audit
		WHERE group_id = $1
		  AND user_id = $2
		  AND kicked_at >= $3`

	var count int
	err := p.db.QueryRowContext(ctx, query, groupID, userID, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}
