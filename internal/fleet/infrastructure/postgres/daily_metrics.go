package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleet-dashboard/internal/fleet/domain"
)

const defaultDailyTable = "site_daily_metrics"

// Open opens a pgx-backed database handle and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// DailyMetricsReader reads per-site daily rollups from the reporting
// warehouse. It is read-only.
type DailyMetricsReader struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// ReaderOption configures the reader.
type ReaderOption func(*DailyMetricsReader)

// WithTable overrides the default table name.
func WithTable(table string) ReaderOption {
	return func(r *DailyMetricsReader) {
		if table != "" {
			r.table = table
		}
	}
}

// WithNow overrides the clock used to compute the window start.
func WithNow(now func() time.Time) ReaderOption {
	return func(r *DailyMetricsReader) {
		if now != nil {
			r.now = now
		}
	}
}

// NewDailyMetricsReader constructs a reader.
func NewDailyMetricsReader(db *sql.DB, opts ...ReaderOption) (*DailyMetricsReader, error) {
	if db == nil {
		return nil, errors.New("postgres: nil db")
	}
	r := &DailyMetricsReader{
		db:    db,
		table: defaultDailyTable,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DailyMetrics returns the last days of one site's series, ascending by date.
func (r *DailyMetricsReader) DailyMetrics(ctx context.Context, siteID string, days int) ([]domain.DailyPoint, error) {
	if siteID == "" {
		return nil, errors.New("postgres: empty site id")
	}
	query := fmt.Sprintf(`
SELECT
	site_id,
	day,
	yield_wh,
	consumed_wh,
	min_soc,
	max_soc
FROM %s
WHERE site_id = $1
	AND day >= $2
ORDER BY day ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID, r.windowStart(days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.DailyPoint
	for rows.Next() {
		_, point, err := scanDailyRow(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

// DailyEnergy returns the last days of every site's series, keyed by site id.
func (r *DailyMetricsReader) DailyEnergy(ctx context.Context, days int) (map[string][]domain.DailyPoint, error) {
	query := fmt.Sprintf(`
SELECT
	site_id,
	day,
	yield_wh,
	consumed_wh,
	min_soc,
	max_soc
FROM %s
WHERE day >= $1
ORDER BY site_id ASC, day ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.windowStart(days))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySite := make(map[string][]domain.DailyPoint)
	for rows.Next() {
		siteID, point, err := scanDailyRow(rows)
		if err != nil {
			return nil, err
		}
		bySite[siteID] = append(bySite[siteID], point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bySite, nil
}

// windowStart is the first day included in a days-long window ending today.
func (r *DailyMetricsReader) windowStart(days int) time.Time {
	if days <= 0 {
		days = 1
	}
	now := r.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(days - 1))
}

func scanDailyRow(rows *sql.Rows) (string, domain.DailyPoint, error) {
	var (
		siteID                          string
		day                             time.Time
		yield, consumed, minSOC, maxSOC sql.NullFloat64
	)
	if err := rows.Scan(&siteID, &day, &yield, &consumed, &minSOC, &maxSOC); err != nil {
		return "", domain.DailyPoint{}, err
	}
	values := make(map[string]float64, 4)
	for field, v := range map[string]sql.NullFloat64{
		domain.FieldYieldWh:    yield,
		domain.FieldConsumedWh: consumed,
		domain.FieldMinSOC:     minSOC,
		domain.FieldMaxSOC:     maxSOC,
	} {
		if v.Valid {
			values[field] = v.Float64
		}
	}
	return siteID, domain.DailyPoint{Date: domain.DateKey(day.UTC()), Values: values}, nil
}
