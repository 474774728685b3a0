package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/calendar"
)

const (
	postgresSchemaSQL = `CREATE TABLE IF NOT EXISTS price_history (
        id                 BIGSERIAL PRIMARY KEY,
        observed_at        TIMESTAMPTZ NOT NULL,
        price_per_person   NUMERIC NOT NULL,
        total_price        NUMERIC NOT NULL,
        currency           TEXT NOT NULL,
        adults             INTEGER NOT NULL,
        origin             TEXT NOT NULL,
        destination        TEXT NOT NULL,
        outbound_departure TIMESTAMPTZ,
        outbound_arrival   TIMESTAMPTZ,
        inbound_departure  TIMESTAMPTZ,
        inbound_arrival    TIMESTAMPTZ,
        google_flights_url TEXT NOT NULL DEFAULT '',
        skyscanner_url     TEXT NOT NULL DEFAULT '',
        created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS price_history_observed_at_idx ON price_history (observed_at);
    CREATE INDEX IF NOT EXISTS price_history_price_idx ON price_history (price_per_person, observed_at);`

	insertHistorySQL = `INSERT INTO price_history (
        observed_at,
        price_per_person,
        total_price,
        currency,
        adults,
        origin,
        destination,
        outbound_departure,
        outbound_arrival,
        inbound_departure,
        inbound_arrival,
        google_flights_url,
        skyscanner_url
    ) VALUES (
        $1,$2::numeric,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id;`

	selectHistoryColumns = `SELECT
        id,
        observed_at,
        price_per_person::text,
        total_price::text,
        currency,
        adults,
        origin,
        destination,
        outbound_departure,
        outbound_arrival,
        inbound_departure,
        inbound_arrival,
        google_flights_url,
        skyscanner_url
    FROM price_history`

	bestBetweenSQL = selectHistoryColumns + `
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY price_per_person, observed_at, id
    LIMIT 1;`

	topHistorySQL = selectHistoryColumns + `
    ORDER BY price_per_person, observed_at, id
    LIMIT $1;`

	listHistoryBetweenSQL = selectHistoryColumns + `
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at, id;`

	countHistorySQL = `SELECT COUNT(*) FROM price_history;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres stores the price history in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool, loc *time.Location) *Postgres {
	if loc == nil {
		loc = time.UTC
	}
	return &Postgres{pool: pool, loc: loc}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the history table when it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Append inserts a record in a single statement.
func (s *Postgres) Append(ctx context.Context, rec HistoryRecord) (RecordID, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, wrap("append", err)
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertHistorySQL,
		rec.ObservedAt,
		rec.PricePerPerson.String(),
		rec.TotalPrice.String(),
		rec.Currency,
		rec.Adults,
		rec.Origin,
		rec.Destination,
		nullableTime(rec.OutboundDeparture),
		nullableTime(rec.OutboundArrival),
		nullableTime(rec.InboundDeparture),
		nullableTime(rec.InboundArrival),
		rec.GoogleFlightsURL,
		rec.SkyscannerURL,
	).Scan(&id)
	if scanErr != nil {
		return 0, wrap("append", scanErr)
	}
	return RecordID(id), nil
}

// BestOfDay returns the cheapest record observed within day in the store's location.
func (s *Postgres) BestOfDay(ctx context.Context, day calendar.Day) (*HistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("best of day", err)
	}

	start, end := day.Bounds(s.loc)
	rows, queryErr := pool.Query(ctx, bestBetweenSQL, start, end)
	if queryErr != nil {
		return nil, wrap("best of day", queryErr)
	}
	records, err := collectHistory(rows)
	if err != nil {
		return nil, wrap("best of day", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// TopN returns the n cheapest records ever observed.
func (s *Postgres) TopN(ctx context.Context, n int) ([]HistoryRecord, error) {
	if n <= 0 {
		return nil, wrap("top n", ErrInvalidLimit)
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("top n", err)
	}

	rows, queryErr := pool.Query(ctx, topHistorySQL, n)
	if queryErr != nil {
		return nil, wrap("top n", queryErr)
	}
	records, err := collectHistory(rows)
	return records, wrap("top n", err)
}

// ListBetween lists records observed within [from, to) in chronological order.
func (s *Postgres) ListBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrap("list between", err)
	}

	rows, queryErr := pool.Query(ctx, listHistoryBetweenSQL, from, to)
	if queryErr != nil {
		return nil, wrap("list between", queryErr)
	}
	records, err := collectHistory(rows)
	return records, wrap("list between", err)
}

// Count counts stored records.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, wrap("count", err)
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countHistorySQL).Scan(&count); scanErr != nil {
		return 0, wrap("count", scanErr)
	}
	return count, nil
}

func collectHistory(rows pgx.Rows) ([]HistoryRecord, error) {
	defer rows.Close()

	records := make([]HistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanHistory(rows pgx.Rows) (HistoryRecord, error) {
	var (
		rec                          HistoryRecord
		id                           int64
		perPersonStr, totalStr       string
		outDep, outArr, inDep, inArr *time.Time
	)

	if err := rows.Scan(
		&id,
		&rec.ObservedAt,
		&perPersonStr,
		&totalStr,
		&rec.Currency,
		&rec.Adults,
		&rec.Origin,
		&rec.Destination,
		&outDep,
		&outArr,
		&inDep,
		&inArr,
		&rec.GoogleFlightsURL,
		&rec.SkyscannerURL,
	); err != nil {
		return HistoryRecord{}, err
	}

	var err error
	rec.ID = RecordID(id)
	if rec.PricePerPerson, err = decimal.NewFromString(perPersonStr); err != nil {
		return HistoryRecord{}, fmt.Errorf("parse price per person: %w", err)
	}
	if rec.TotalPrice, err = decimal.NewFromString(totalStr); err != nil {
		return HistoryRecord{}, fmt.Errorf("parse total price: %w", err)
	}
	rec.OutboundDeparture = derefTime(outDep)
	rec.OutboundArrival = derefTime(outArr)
	rec.InboundDeparture = derefTime(inDep)
	rec.InboundArrival = derefTime(inArr)
	return rec, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

var (
	_ Backend        = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
