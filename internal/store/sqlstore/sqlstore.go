// Package sqlstore persists candles, signals and positions in SQLite or
// PostgreSQL through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"sniperbot/internal/model"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// Store implements model.Store on a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     zerolog.Logger
}

var _ model.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) a SQLite database at path with WAL
// journaling.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open(SQLite.driverName(), path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return open(ctx, db, SQLite, log)
}

// OpenPostgres connects to PostgreSQL using a lib/pq DSN or URL.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open(Postgres.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return open(ctx, db, Postgres, log)
}

// Open picks the dialect by driver name ("sqlite" or "postgres").
func Open(ctx context.Context, driver, target string, log zerolog.Logger) (*Store, error) {
	switch Dialect(driver) {
	case SQLite:
		return OpenSQLite(ctx, target, log)
	case Postgres:
		return OpenPostgres(ctx, target, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func open(ctx context.Context, db *sql.DB, d Dialect, log zerolog.Logger) (*Store, error) {
	s := &Store{db: db, dialect: d, log: log.With().Str("component", "sqlstore").Str("dialect", string(d)).Logger()}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", d, err)
	}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s schema: %w", d, err)
	}
	s.log.Info().Msg("database ready")
	return s, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Timestamps are stored as unix milliseconds. The column types are
// understood by both engines.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT             NOT NULL,
		ts     BIGINT           NOT NULL,
		open   DOUBLE PRECISION NOT NULL,
		high   DOUBLE PRECISION NOT NULL,
		low    DOUBLE PRECISION NOT NULL,
		close  DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id         TEXT             PRIMARY KEY,
		symbol     TEXT             NOT NULL,
		ts         BIGINT           NOT NULL,
		action     TEXT             NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		trend      TEXT             NOT NULL,
		reason     TEXT             NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS positions (
		trade_id    TEXT             PRIMARY KEY,
		symbol      TEXT             NOT NULL,
		side        TEXT             NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		quantity    DOUBLE PRECISION NOT NULL,
		stop_loss   DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		opened_at   BIGINT           NOT NULL,
		closed_at   BIGINT,
		exit_price  DOUBLE PRECISION,
		pnl         DOUBLE PRECISION,
		status      TEXT             NOT NULL,
		manual      BOOLEAN          NOT NULL DEFAULT FALSE,
		exit_reason TEXT             NOT NULL DEFAULT '',
		order_id    TEXT             NOT NULL DEFAULT '',
		signal_id   TEXT             NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol, opened_at)`,
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return &model.PersistenceFailure{Op: op, Err: err}
	}
	return nil
}

// UpsertCandle inserts or replaces the candle at (symbol, ts).
func (s *Store) UpsertCandle(ctx context.Context, c model.Candle) error {
	return s.exec(ctx, "upsert_candle", `
		INSERT INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`,
		c.Symbol, toMillis(c.TS), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// AppendSignal inserts a signal. Re-inserting an id is a no-op.
func (s *Store) AppendSignal(ctx context.Context, sig model.Signal) error {
	return s.exec(ctx, "append_signal", `
		INSERT INTO signals (id, symbol, ts, action, price, confidence, trend, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.Symbol, toMillis(sig.TS), string(sig.Action), sig.Price, sig.Confidence, string(sig.Trend), sig.Reason)
}

// UpsertPosition inserts or replaces the position keyed by trade id.
func (s *Store) UpsertPosition(ctx context.Context, p model.Position) error {
	var closedAt sql.NullInt64
	var exitPrice, pnl sql.NullFloat64
	if !p.ClosedAt.IsZero() {
		closedAt = sql.NullInt64{Int64: toMillis(p.ClosedAt), Valid: true}
		exitPrice = sql.NullFloat64{Float64: p.ExitPrice, Valid: true}
		pnl = sql.NullFloat64{Float64: p.PnL, Valid: true}
	}
	return s.exec(ctx, "upsert_position", `
		INSERT INTO positions (trade_id, symbol, side, entry_price, quantity, stop_loss, take_profit,
			opened_at, closed_at, exit_price, pnl, status, manual, exit_reason, order_id, signal_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (trade_id) DO UPDATE SET
			closed_at = excluded.closed_at, exit_price = excluded.exit_price, pnl = excluded.pnl,
			status = excluded.status, manual = excluded.manual, exit_reason = excluded.exit_reason`,
		p.TradeID, p.Symbol, string(p.Side), p.EntryPrice, p.Quantity, p.StopLoss, p.TakeProfit,
		toMillis(p.OpenedAt), closedAt, exitPrice, pnl, string(p.Status), p.Manual, string(p.ExitReason),
		p.OrderID, p.SignalID)
}

const positionColumns = `trade_id, symbol, side, entry_price, quantity, stop_loss, take_profit,
	opened_at, closed_at, exit_price, pnl, status, manual, exit_reason, order_id, signal_id`

// OpenPositions returns all OPEN positions across symbols, oldest first.
func (s *Store) OpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.queryPositions(ctx, "open_positions",
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY opened_at ASC`,
		string(model.StatusOpen))
}

// ClosedPositions returns the closed and cancelled positions of symbol.
func (s *Store) ClosedPositions(ctx context.Context, symbol string) ([]model.Position, error) {
	return s.queryPositions(ctx, "closed_positions",
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status <> ? ORDER BY opened_at ASC`,
		symbol, string(model.StatusOpen))
}

// TradeStats aggregates the closed trades of symbol.
func (s *Store) TradeStats(ctx context.Context, symbol string) (model.TradeStats, error) {
	closed, err := s.ClosedPositions(ctx, symbol)
	if err != nil {
		return model.TradeStats{}, err
	}
	return model.StatsFor(closed), nil
}

func (s *Store) queryPositions(ctx context.Context, op, query string, args ...any) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, &model.PersistenceFailure{Op: op, Err: err}
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p                    model.Position
			side, status, reason string
			openedAt             int64
			closedAt             sql.NullInt64
			exitPrice, pnl       sql.NullFloat64
		)
		if err := rows.Scan(&p.TradeID, &p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.StopLoss, &p.TakeProfit,
			&openedAt, &closedAt, &exitPrice, &pnl, &status, &p.Manual, &reason, &p.OrderID, &p.SignalID); err != nil {
			return nil, &model.PersistenceFailure{Op: op, Err: err}
		}
		p.Side = model.Side(side)
		p.Status = model.PositionStatus(status)
		p.ExitReason = model.ExitReason(reason)
		p.OpenedAt = fromMillis(openedAt)
		if closedAt.Valid {
			p.ClosedAt = fromMillis(closedAt.Int64)
		}
		p.ExitPrice = exitPrice.Float64
		p.PnL = pnl.Float64
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.PersistenceFailure{Op: op, Err: err}
	}
	return out, nil
}

// RecentCandles returns the last limit candles of symbol, oldest first.
func (s *Store) RecentCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	candles, err := s.queryCandles(ctx, "recent_candles", `
		SELECT symbol, ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? ORDER BY ts DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Candles returns the candles of symbol in [from, to), oldest first.
func (s *Store) Candles(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = toMillis(to)
	}
	return s.queryCandles(ctx, "candles", `
		SELECT symbol, ts, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND ts >= ? AND ts < ? ORDER BY ts ASC`, symbol, toMillis(from), upper)
}

func (s *Store) queryCandles(ctx context.Context, op, query string, args ...any) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, &model.PersistenceFailure{Op: op, Err: err}
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var ts int64
		if err := rows.Scan(&c.Symbol, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, &model.PersistenceFailure{Op: op, Err: err}
		}
		c.TS = fromMillis(ts)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.PersistenceFailure{Op: op, Err: err}
	}
	return out, nil
}

// Signals returns the stored signals of symbol, oldest first.
func (s *Store) Signals(ctx context.Context, symbol string) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, symbol, ts, action, price, confidence, trend, reason FROM signals
		WHERE symbol = ? ORDER BY ts ASC`), symbol)
	if err != nil {
		return nil, &model.PersistenceFailure{Op: "signals", Err: err}
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var ts int64
		var action, trend string
		if err := rows.Scan(&sig.ID, &sig.Symbol, &ts, &action, &sig.Price, &sig.Confidence, &trend, &sig.Reason); err != nil {
			return nil, &model.PersistenceFailure{Op: "signals", Err: err}
		}
		sig.TS = fromMillis(ts)
		sig.Action = model.Action(action)
		sig.Trend = model.Trend(trend)
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.PersistenceFailure{Op: "signals", Err: err}
	}
	return out, nil
}

// LastCandleTime returns the newest stored candle time of symbol, or the
// zero time when there is none.
func (s *Store) LastCandleTime(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT MAX(ts) FROM candles WHERE symbol = ?`), symbol).Scan(&ts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, &model.PersistenceFailure{Op: "last_candle_time", Err: err}
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return fromMillis(ts.Int64), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
