// Package voicecache persists the remote voice catalogue in a local SQLite
// database so repeated listings do not hit the network.
package voicecache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/readaloud/pkg/synth/edge"
	_ "modernc.org/sqlite"
)

// DefaultTTL is how long a cached catalogue counts as fresh when no TTL is
// configured.
const DefaultTTL = 24 * time.Hour

// Store wraps a SQLite-backed voice catalogue cache.
type Store struct {
	db    *sql.DB
	ttl   time.Duration
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the cache at path. The parent directory is created if
// missing. A ttl of 0 uses [DefaultTTL].
func Open(ctx context.Context, path string, ttl time.Duration, log *slog.Logger) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, ttl: ttl, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voices (
    short_name TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    gender TEXT,
    locale TEXT,
    suggested_codec TEXT,
    friendly_name TEXT,
    status TEXT
);
CREATE TABLE IF NOT EXISTS catalogue_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voices_locale ON voices(locale);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping probes the underlying database, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Put replaces the cached catalogue with voices and stamps the fetch time.
func (s *Store) Put(ctx context.Context, voices []edge.Voice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM voices"); err != nil {
		return fmt.Errorf("clear voices: %w", err)
	}
	for _, v := range voices {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO voices(short_name, name, gender, locale, suggested_codec, friendly_name, status)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			v.ShortName, v.Name, v.Gender, v.Locale, v.SuggestedCodec, v.FriendlyName, v.Status)
		if err != nil {
			return fmt.Errorf("insert voice %q: %w", v.ShortName, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO catalogue_meta(id, fetched_at) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET fetched_at=excluded.fetched_at`,
		s.clock().UTC())
	if err != nil {
		return fmt.Errorf("stamp fetch time: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("voice catalogue cached", slog.Int("voices", len(voices)))
	return nil
}

// Get returns the cached catalogue and whether it is still within the TTL.
// An empty cache returns (nil, false, nil).
func (s *Store) Get(ctx context.Context) ([]edge.Voice, bool, error) {
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT fetched_at FROM catalogue_meta WHERE id = 1").Scan(&fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read fetch time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT short_name, name, gender, locale, suggested_codec, friendly_name, status
		 FROM voices ORDER BY short_name`)
	if err != nil {
		return nil, false, fmt.Errorf("query voices: %w", err)
	}
	defer rows.Close()

	var voices []edge.Voice
	for rows.Next() {
		var v edge.Voice
		if err := rows.Scan(&v.ShortName, &v.Name, &v.Gender, &v.Locale, &v.SuggestedCodec, &v.FriendlyName, &v.Status); err != nil {
			return nil, false, fmt.Errorf("scan voice: %w", err)
		}
		voices = append(voices, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	fresh := s.clock().UTC().Sub(fetchedAt) < s.ttl
	return voices, fresh, nil
}

// ByLocale returns cached voices whose locale matches exactly.
func (s *Store) ByLocale(ctx context.Context, locale string) ([]edge.Voice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT short_name, name, gender, locale, suggested_codec, friendly_name, status
		 FROM voices WHERE locale = ? ORDER BY short_name`, locale)
	if err != nil {
		return nil, fmt.Errorf("query voices: %w", err)
	}
	defer rows.Close()

	var voices []edge.Voice
	for rows.Next() {
		var v edge.Voice
		if err := rows.Scan(&v.ShortName, &v.Name, &v.Gender, &v.Locale, &v.SuggestedCodec, &v.FriendlyName, &v.Status); err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}
