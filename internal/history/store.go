package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"hedgearb/internal/infra/log"
	"hedgearb/internal/position"
)

// Store persists terminal positions to a local sqlite database for post-run
// analysis. It is append-only; the engine never reads it back.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	quantity      REAL NOT NULL,
	leverage      INTEGER NOT NULL,
	strategy      TEXT NOT NULL,
	status        TEXT NOT NULL,
	venue_a       TEXT NOT NULL,
	side_a        TEXT NOT NULL,
	entry_price_a REAL NOT NULL,
	venue_b       TEXT NOT NULL,
	side_b        TEXT NOT NULL,
	entry_price_b REAL NOT NULL,
	entry_spread  REAL NOT NULL,
	entry_time    INTEGER NOT NULL,
	exit_price_a  REAL NOT NULL,
	exit_price_b  REAL NOT NULL,
	exit_spread   REAL NOT NULL,
	exit_time     INTEGER NOT NULL,
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
`

func Open(path string, logger log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Single writer; WAL keeps the engine from blocking on fsync.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	logger.Info().Str("path", path).Msg("history store opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) RecordPosition(ctx context.Context, pos *position.ArbitragePosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
		(id, symbol, quantity, leverage, strategy, status,
		 venue_a, side_a, entry_price_a, venue_b, side_b, entry_price_b,
		 entry_spread, entry_time, exit_price_a, exit_price_b, exit_spread, exit_time,
		 recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.Symbol, pos.Quantity, pos.Leverage, string(pos.Strategy), string(pos.CurrentStatus()),
		pos.LegA.VenueID, string(pos.LegA.Side), pos.LegA.EntryPrice,
		pos.LegB.VenueID, string(pos.LegB.Side), pos.LegB.EntryPrice,
		pos.EntrySpread, millis(pos.EntryTime),
		pos.LegA.ExitPrice, pos.LegB.ExitPrice, pos.ExitSpread, millis(pos.ExitTime),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", pos.ID, err)
	}
	return nil
}

// millis stores zero times as 0 rather than the epoch distance of the zero
// time; failed positions may never have filled or closed.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Count returns the number of recorded positions, optionally filtered by
// terminal status.
func (s *Store) Count(ctx context.Context, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE status = ?`, status).Scan(&n)
	}
	return n, err
}

func (s *Store) Close() error { return s.db.Close() }
