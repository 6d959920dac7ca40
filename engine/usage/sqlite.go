package usage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usage: open %s: %w", path, err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// Each connection to an in-memory database is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: pragma: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("usage: migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("usage: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("usage: migrate: %w", err)
	}
	// m is not closed: closing it closes db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("usage: migrate up: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Tier(ctx context.Context, userID string, now time.Time) (Tier, error) {
	var t string
	err := s.db.QueryRowContext(ctx,
		`SELECT override_tier FROM tier_overrides
		 WHERE user_id = ? AND expires_at_ms > ?
		 ORDER BY created_at_ms DESC, id DESC LIMIT 1`,
		userID, now.UnixMilli()).Scan(&t)
	switch {
	case err == nil:
		return parseTier(t), nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("usage: tier override: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT tier FROM user_tiers WHERE user_id = ?`, userID).Scan(&t)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return FreeTier, nil
	case err != nil:
		return "", fmt.Errorf("usage: user tier: %w", err)
	}
	return parseTier(t), nil
}

func parseTier(s string) Tier {
	if t := Tier(s); t.Valid() {
		return t
	}
	return FreeTier
}

func (s *SQLiteStore) Count(ctx context.Context, userID string, action Action, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND action = ? AND created_at_ms >= ?`,
		userID, string(action), since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("usage: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Event) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("usage: metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (user_id, action, metadata, created_at_ms) VALUES (?, ?, ?, ?)`,
		e.UserID, string(e.Action), string(meta), e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}
	return nil
}

// SetTier assigns userID's subscription tier.
func (s *SQLiteStore) SetTier(ctx context.Context, userID string, tier Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("usage: unknown tier %q", tier)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tiers (user_id, tier, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, updated_at_ms = excluded.updated_at_ms`,
		userID, string(tier), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("usage: set tier: %w", err)
	}
	return nil
}

// SetOverride grants userID tier until expiresAt, taking precedence over the
// assigned tier.
func (s *SQLiteStore) SetOverride(ctx context.Context, userID string, tier Tier, expiresAt time.Time) error {
	if !tier.Valid() {
		return fmt.Errorf("usage: unknown tier %q", tier)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_overrides (user_id, override_tier, expires_at_ms, created_at_ms) VALUES (?, ?, ?, ?)`,
		userID, string(tier), expiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("usage: set override: %w", err)
	}
	return nil
}
