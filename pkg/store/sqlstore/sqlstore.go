// Package sqlstore implements store.Store on database/sql for Postgres (pgx)
// and SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/store"
)

// Dialect selects placeholder style and schema flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const columns = `id, identity_key, external_id, name, set_name, card_number,
	market_price, lowest_listed, source, confidence, updated_at`

// Store is a store.Store over a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	pool    *pgxpool.Pool
	logger  *logging.Logger
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "sqlstore", "dialect", string(dialect)),
		now:     time.Now,
	}
}

// OpenPostgres connects a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, logger *logging.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(stdlib.OpenDBFromPool(pool), Postgres, logger)
	s.pool = pool
	return s, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return New(db, SQLite, logger), nil
}

// EnsureSchema creates the price table and indexes if they do not exist.
// Production schemas are owned elsewhere; this is for local and test databases.
func (s *Store) EnsureSchema(ctx context.Context) error {
	priceType := "NUMERIC(14,2)"
	if s.dialect == SQLite {
		priceType = "NUMERIC"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS card_prices (
			id TEXT PRIMARY KEY,
			identity_key TEXT NOT NULL UNIQUE,
			external_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			name_norm TEXT NOT NULL,
			set_name TEXT NOT NULL DEFAULT '',
			card_number TEXT NOT NULL DEFAULT '',
			market_price ` + priceType + `,
			lowest_listed ` + priceType + `,
			source TEXT NOT NULL DEFAULT '',
			confidence INTEGER NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS card_prices_external_id ON card_prices (external_id)`,
		`CREATE INDEX IF NOT EXISTS card_prices_name_norm ON card_prices (name_norm)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, id store.Identity) (*store.Record, error) {
	if !id.Valid() {
		return nil, store.ErrInvalidIdentity
	}

	if id.ExternalID != "" {
		rec, err := s.queryOne(ctx, `SELECT `+columns+` FROM card_prices
			WHERE external_id = ? ORDER BY updated_at DESC LIMIT 1`, id.ExternalID)
		if err != nil || rec != nil || id.Name == "" {
			return rec, err
		}
	}

	// Set and number are compared after loading so that number spellings
	// ("004/102" vs "4") normalize the same way as on write.
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+columns+` FROM card_prices
		WHERE name_norm = ? ORDER BY updated_at DESC`), store.NormalizedName(id.Name))
	if err != nil {
		return nil, fmt.Errorf("query by name: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec.Matches(id) {
			return rec, nil
		}
	}
	return nil, rows.Err()
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, rec store.Record) (string, error) {
	if !rec.Valid() {
		return "", store.ErrInvalidIdentity
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}

	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO card_prices (
			id, identity_key, external_id, name, name_norm, set_name, card_number,
			market_price, lowest_listed, source, confidence, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_key) DO UPDATE SET
			market_price = excluded.market_price,
			lowest_listed = excluded.lowest_listed,
			source = excluded.source,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
		RETURNING id`),
		rec.ID,
		rec.Key(),
		rec.ExternalID,
		strings.TrimSpace(rec.Name),
		store.NormalizedName(rec.Name),
		strings.TrimSpace(rec.SetName),
		strings.TrimSpace(rec.CardNumber),
		rec.MarketPrice,
		rec.LowestListed,
		rec.Source,
		rec.Confidence,
		toMillis(rec.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return id, nil
}

// ListMissingPrice implements store.Store.
func (s *Store) ListMissingPrice(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+columns+` FROM card_prices
		WHERE market_price IS NULL ORDER BY updated_at ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list missing price: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Close closes the database handle and, for Postgres, the pool behind it.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func (s *Store) queryOne(ctx context.Context, query string, args ...interface{}) (*store.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		rec       store.Record
		key       string
		updatedAt int64
	)
	err := row.Scan(
		&rec.ID,
		&key,
		&rec.ExternalID,
		&rec.Name,
		&rec.SetName,
		&rec.CardNumber,
		&rec.MarketPrice,
		&rec.LowestListed,
		&rec.Source,
		&rec.Confidence,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
