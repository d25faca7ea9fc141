package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"crous_bot/internal/model"
	"crous_bot/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// FilterNew checks each listing's fingerprint against the seen set in input
// order, persisting a seen entry and including the listing in the result
// when unseen. The last_poll_at meta entry is refreshed once per call
// regardless of the outcome. Duplicate fingerprints within one call are
// caught because each insert lands before the next check.
func (s *SQLite) FilterNew(ctx context.Context, listings []model.Listing) ([]model.Listing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	var fresh []model.Listing
	for _, l := range listings {
		fp := l.Fingerprint()

		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM seen_listings WHERE fingerprint = ?`, fp,
		).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("check seen: %w", err)
		default:
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_listings (fingerprint, title, url, first_seen_at)
			 VALUES (?, ?, ?, ?)`,
			fp, l.Title, l.URL, now,
		); err != nil {
			return nil, fmt.Errorf("insert seen: %w", err)
		}
		fresh = append(fresh, l)
	}

	if err := upsertMeta(ctx, tx, MetaLastPollAt, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return fresh, nil
}

// GetMeta returns the stored value for key, or "" when absent.
func (s *SQLite) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a meta entry.
func (s *SQLite) SetMeta(ctx context.Context, key, value string) error {
	return upsertMeta(ctx, s.db, key, value)
}

// ResetFailureCount zeroes the consecutive-failure counter.
func (s *SQLite) ResetFailureCount(ctx context.Context) error {
	return s.SetMeta(ctx, MetaConsecutiveFailures, "0")
}

// RegisterFailure increments the consecutive-failure counter and returns
// the new value. An absent or unparseable counter reads as zero.
func (s *SQLite) RegisterFailure(ctx context.Context) (int, error) {
	raw, err := s.GetMeta(ctx, MetaConsecutiveFailures)
	if err != nil {
		return 0, err
	}
	count, _ := strconv.Atoi(raw)
	count++
	if err := s.SetMeta(ctx, MetaConsecutiveFailures, strconv.Itoa(count)); err != nil {
		return 0, err
	}
	return count, nil
}

// ShouldSendHeartbeat reports whether the heartbeat interval has elapsed,
// refreshing the stored timestamp when it fires. The very first check only
// records the current time, so a fresh deployment does not emit a spurious
// heartbeat at startup.
func (s *SQLite) ShouldSendHeartbeat(ctx context.Context, interval time.Duration) (bool, error) {
	return s.checkElapsed(ctx, MetaLastHeartbeatAt, interval, false)
}

// ShouldSendErrorAlert reports whether the alert cooldown has elapsed. The
// very first check returns true: the first qualifying failure should not be
// suppressed.
func (s *SQLite) ShouldSendErrorAlert(ctx context.Context, cooldown time.Duration) (bool, error) {
	return s.checkElapsed(ctx, MetaLastErrorAlertAt, cooldown, true)
}

func (s *SQLite) checkElapsed(ctx context.Context, key string, interval time.Duration, firstResult bool) (bool, error) {
	now := time.Now().UTC()

	raw, err := s.GetMeta(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == "" {
		if err := s.SetMeta(ctx, key, now.Format(time.RFC3339)); err != nil {
			return false, err
		}
		return firstResult, nil
	}

	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	if now.Sub(last) < interval {
		return false, nil
	}
	if err := s.SetMeta(ctx, key, now.Format(time.RFC3339)); err != nil {
		return false, err
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertMeta(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert meta %s: %w", key, err)
	}
	return nil
}
