package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"flight-price-alerts/internal/calendar"
)

const sqliteSchemaSQL = `CREATE TABLE IF NOT EXISTS price_history (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    observed_at        INTEGER NOT NULL,
    price_cents        INTEGER NOT NULL,
    total_cents        INTEGER NOT NULL,
    currency           TEXT NOT NULL,
    adults             INTEGER NOT NULL,
    origin             TEXT NOT NULL,
    destination        TEXT NOT NULL,
    outbound_departure TEXT NOT NULL DEFAULT '',
    outbound_arrival   TEXT NOT NULL DEFAULT '',
    inbound_departure  TEXT NOT NULL DEFAULT '',
    inbound_arrival    TEXT NOT NULL DEFAULT '',
    google_flights_url TEXT NOT NULL DEFAULT '',
    skyscanner_url     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_price_history_observed ON price_history(observed_at);
CREATE INDEX IF NOT EXISTS idx_price_history_price ON price_history(price_cents, observed_at);`

const sqliteColumns = `SELECT id, observed_at, price_cents, total_cents, currency, adults, origin, destination,
    outbound_departure, outbound_arrival, inbound_departure, inbound_arrival,
    google_flights_url, skyscanner_url
FROM price_history`

// SQLite stores the price history in a single local file.
// Prices are kept as integer cents and instants as unix nanoseconds.
type SQLite struct {
	db  *sql.DB
	loc *time.Location
}

// OpenSQLite opens (creating when needed) the database at path.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration, loc *time.Location) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("database.path is required for sqlite")
	}
	if loc == nil {
		loc = time.UTC
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps appends serialised
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	return &SQLite{db: db, loc: loc}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts one record.
func (s *SQLite) Append(ctx context.Context, rec HistoryRecord) (RecordID, error) {
	if s == nil || s.db == nil {
		return 0, wrap("append", ErrNotConfigured)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO price_history (
        observed_at, price_cents, total_cents, currency, adults, origin, destination,
        outbound_departure, outbound_arrival, inbound_departure, inbound_arrival,
        google_flights_url, skyscanner_url
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ObservedAt.UnixNano(),
		toCents(rec.PricePerPerson),
		toCents(rec.TotalPrice),
		rec.Currency,
		rec.Adults,
		rec.Origin,
		rec.Destination,
		formatLegTime(rec.OutboundDeparture),
		formatLegTime(rec.OutboundArrival),
		formatLegTime(rec.InboundDeparture),
		formatLegTime(rec.InboundArrival),
		rec.GoogleFlightsURL,
		rec.SkyscannerURL,
	)
	if err != nil {
		return 0, wrap("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("append", err)
	}
	return RecordID(id), nil
}

// BestOfDay returns the cheapest record observed on day.
func (s *SQLite) BestOfDay(ctx context.Context, day calendar.Day) (*HistoryRecord, error) {
	if s == nil || s.db == nil {
		return nil, wrap("best of day", ErrNotConfigured)
	}
	start, end := day.Bounds(s.loc)
	records, err := s.query(ctx, sqliteColumns+`
WHERE observed_at >= ? AND observed_at < ?
ORDER BY price_cents, observed_at, id
LIMIT 1`, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, wrap("best of day", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// TopN returns the n cheapest records.
func (s *SQLite) TopN(ctx context.Context, n int) ([]HistoryRecord, error) {
	if n <= 0 {
		return nil, wrap("top n", ErrInvalidLimit)
	}
	if s == nil || s.db == nil {
		return nil, wrap("top n", ErrNotConfigured)
	}
	records, err := s.query(ctx, sqliteColumns+`
ORDER BY price_cents, observed_at, id
LIMIT ?`, n)
	return records, wrap("top n", err)
}

// ListBetween lists records within [from, to) oldest first.
func (s *SQLite) ListBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error) {
	if s == nil || s.db == nil {
		return nil, wrap("list between", ErrNotConfigured)
	}
	records, err := s.query(ctx, sqliteColumns+`
WHERE observed_at >= ? AND observed_at < ?
ORDER BY observed_at, id`, from.UnixNano(), to.UnixNano())
	return records, wrap("list between", err)
}

// Count counts stored records.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, wrap("count", ErrNotConfigured)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history`).Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]HistoryRecord, 0)
	for rows.Next() {
		var (
			rec                          HistoryRecord
			id, observed                 int64
			priceCents, totalCents       int64
			outDep, outArr, inDep, inArr string
		)
		if err := rows.Scan(&id, &observed, &priceCents, &totalCents, &rec.Currency, &rec.Adults,
			&rec.Origin, &rec.Destination, &outDep, &outArr, &inDep, &inArr,
			&rec.GoogleFlightsURL, &rec.SkyscannerURL); err != nil {
			return nil, err
		}
		rec.ID = RecordID(id)
		rec.ObservedAt = time.Unix(0, observed).In(s.loc)
		rec.PricePerPerson = fromCents(priceCents)
		rec.TotalPrice = fromCents(totalCents)
		if rec.OutboundDeparture, err = parseLegTime(outDep); err != nil {
			return nil, err
		}
		if rec.OutboundArrival, err = parseLegTime(outArr); err != nil {
			return nil, err
		}
		if rec.InboundDeparture, err = parseLegTime(inDep); err != nil {
			return nil, err
		}
		if rec.InboundArrival, err = parseLegTime(inArr); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var hundred = decimal.NewFromInt(100)

func toCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func formatLegTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseLegTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse leg time %q: %w", s, err)
	}
	return t, nil
}

var _ Backend = (*SQLite)(nil)
