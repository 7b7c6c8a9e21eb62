package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/radiusdt/adspend-kpi/internal/metrics"
	"github.com/radiusdt/adspend-kpi/internal/models"
)

const (
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema-qualified
// identifier.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// Rows are bucketed with the same half-open bounds as
// models.ComparisonWindow. Arguments: prior start, current start, end.
const postgresAggregateQuery = `
	SELECT period,
		COALESCE(SUM(spend), 0)::text AS total_spend,
		COALESCE(SUM(conversions), 0)::bigint AS total_conversions
	FROM (
		SELECT spend, conversions,
			CASE
				WHEN "date" >= $2 AND "date" < $3 THEN 'Current Period'
				WHEN "date" >= $1 AND "date" < $2 THEN 'Prior Period'
			END AS period
		FROM %s
		WHERE "date" >= $1 AND "date" < $3
	) AS classified
	WHERE period IS NOT NULL
	GROUP BY period
`

// ClickHouse binds positionally, so the bounds repeat in order.
const clickhouseAggregateQuery = `
	SELECT period,
		toString(sum(spend)) AS total_spend,
		toInt64(sum(conversions)) AS total_conversions
	FROM (
		SELECT spend, conversions,
			multiIf(
				date >= ? AND date < ?, 'Current Period',
				date >= ? AND date < ?, 'Prior Period',
				''
			) AS period
		FROM %s
		WHERE date >= ? AND date < ?
	)
	WHERE period != ''
	GROUP BY period
`

// SQLSpendSource aggregates spend with a single query over database/sql.
// Every call takes its own connection and gives it back before returning.
type SQLSpendSource struct {
	db      *sql.DB
	driver  string
	query   string
	metrics *metrics.Metrics
}

// NewPostgresSpendSource creates a source reading table through a
// PostgreSQL handle.
func NewPostgresSpendSource(db *sql.DB, table string, m *metrics.Metrics) (*SQLSpendSource, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return &SQLSpendSource{
		db:      db,
		driver:  DriverPostgres,
		query:   fmt.Sprintf(postgresAggregateQuery, ident),
		metrics: m,
	}, nil
}

// NewClickHouseSpendSource creates a source reading table through a
// ClickHouse handle.
func NewClickHouseSpendSource(db *sql.DB, table string, m *metrics.Metrics) (*SQLSpendSource, error) {
	if !ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return &SQLSpendSource{
		db:      db,
		driver:  DriverClickHouse,
		query:   fmt.Sprintf(clickhouseAggregateQuery, strings.Join(parts, ".")),
		metrics: m,
	}, nil
}

// Driver returns the SQL dialect the source speaks.
func (s *SQLSpendSource) Driver() string { return s.driver }

func (s *SQLSpendSource) args(w models.ComparisonWindow) []any {
	prior, start, end := w.Prior.Start, w.Current.Start, w.Current.End
	if s.driver == DriverClickHouse {
		return []any{start, end, prior, start, prior, end}
	}
	return []any{prior, start, end}
}

// AggregatePeriods runs the aggregation query for w.
func (s *SQLSpendSource) AggregatePeriods(ctx context.Context, w models.ComparisonWindow) (aggs []models.PeriodAggregate, err error) {
	began := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordQuery(s.driver, err, time.Since(began))
		}
	}()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, s.query, s.args(w)...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate spend: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			period      string
			spend       decimal.Decimal
			conversions int64
		)
		if err := rows.Scan(&period, &spend, &conversions); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggs = append(aggs, models.NewPeriodAggregate(models.Period(period), spend, conversions))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aggregates: %w", err)
	}

	return aggs, nil
}

// Ping checks that the database is reachable.
func (s *SQLSpendSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
