package kpi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/adspend-kpi/internal/metrics"
	"github.com/radiusdt/adspend-kpi/internal/models"
	"github.com/radiusdt/adspend-kpi/internal/storage"
)

type stubSource struct {
	aggs     []models.PeriodAggregate
	err      error
	calls    int
	window   models.ComparisonWindow
	deadline bool
}

func (s *stubSource) AggregatePeriods(ctx context.Context, w models.ComparisonWindow) ([]models.PeriodAggregate, error) {
	s.calls++
	s.window = w
	_, s.deadline = ctx.Deadline()
	return s.aggs, s.err
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

func agg(p models.Period, spend string, conversions int64) models.PeriodAggregate {
	return models.NewPeriodAggregate(p, decimal.RequireFromString(spend), conversions)
}

func row(t *testing.T, report *models.ComparisonReport, k models.KPI) models.ComparisonRow {
	t.Helper()
	for _, r := range report.ComparisonData {
		if r.KPI == k {
			return r
		}
	}
	t.Fatalf("row %s not found", k)
	return models.ComparisonRow{}
}

func fixed(v models.Value) string {
	if !v.Valid {
		return "null"
	}
	return v.Decimal.StringFixed(2)
}

func TestCompute_EqualPeriodsScenario(t *testing.T) {
	src := &stubSource{aggs: []models.PeriodAggregate{
		agg(models.PeriodCurrent, "1000", 10),
		agg(models.PeriodPrior, "800", 8),
	}}
	calc := NewCalculator(src, zap.NewNop(), nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)

	assert.Equal(t, "2024-02-23", src.window.Prior.Start.Format(models.DateLayout))
	assert.Equal(t, "2024-03-01", src.window.Prior.End.Format(models.DateLayout))
	assert.Equal(t, "2024-03-01", report.RequestedPeriod.Start.Format(models.DateLayout))
	assert.Equal(t, "2024-03-08", report.RequestedPeriod.End.Format(models.DateLayout))

	require.Len(t, report.ComparisonData, 2)
	assert.Equal(t, models.KPICAC, report.ComparisonData[0].KPI)
	assert.Equal(t, models.KPIROAS, report.ComparisonData[1].KPI)

	cac := row(t, report, models.KPICAC)
	assert.Equal(t, "100.00", fixed(cac.Current))
	assert.Equal(t, "100.00", fixed(cac.Prior))
	require.NotNil(t, cac.Delta)
	assert.Equal(t, "0.00%", *cac.Delta)

	roas := row(t, report, models.KPIROAS)
	assert.Equal(t, "1.00", fixed(roas.Current))
	assert.Equal(t, "1.00", fixed(roas.Prior))
	require.NotNil(t, roas.Delta)
	assert.Equal(t, "0.00%", *roas.Delta)
}

func TestCompute_ZeroPriorConversions(t *testing.T) {
	src := &stubSource{aggs: []models.PeriodAggregate{
		agg(models.PeriodCurrent, "1000", 10),
		agg(models.PeriodPrior, "500", 0),
	}}
	calc := NewCalculator(src, nil, nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)

	cac := row(t, report, models.KPICAC)
	assert.Equal(t, "100.00", fixed(cac.Current))
	assert.Equal(t, "null", fixed(cac.Prior))
	assert.Nil(t, cac.Delta)

	// zero prior revenue makes prior ROAS zero, which also nulls the delta
	roas := row(t, report, models.KPIROAS)
	assert.Equal(t, "1.00", fixed(roas.Current))
	assert.Equal(t, "0.00", fixed(roas.Prior))
	assert.Nil(t, roas.Delta)
}

func TestCompute_ZeroSpend(t *testing.T) {
	src := &stubSource{aggs: []models.PeriodAggregate{
		agg(models.PeriodCurrent, "0", 5),
		agg(models.PeriodPrior, "200", 4),
	}}
	calc := NewCalculator(src, nil, nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)

	roas := row(t, report, models.KPIROAS)
	assert.Equal(t, "null", fixed(roas.Current))
	assert.Equal(t, "2.00", fixed(roas.Prior))
	assert.Nil(t, roas.Delta)

	cac := row(t, report, models.KPICAC)
	assert.Equal(t, "0.00", fixed(cac.Current))
	assert.Equal(t, "50.00", fixed(cac.Prior))
	require.NotNil(t, cac.Delta)
	assert.Equal(t, "-100.00%", *cac.Delta)
}

func TestCompute_MissingPeriods(t *testing.T) {
	tests := []struct {
		name string
		aggs []models.PeriodAggregate
	}{
		{"no rows", nil},
		{"only current", []models.PeriodAggregate{agg(models.PeriodCurrent, "300", 3)}},
		{"unknown period ignored", []models.PeriodAggregate{agg(models.PeriodCurrent, "300", 3), agg("Other", "1", 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(&stubSource{aggs: tt.aggs}, nil, nil, 0)

			report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
			require.NoError(t, err)
			require.Len(t, report.ComparisonData, 2)
			for _, r := range report.ComparisonData {
				assert.False(t, r.Prior.Valid)
				assert.Nil(t, r.Delta)
			}
		})
	}
}

func TestCompute_DeltaRounding(t *testing.T) {
	src := &stubSource{aggs: []models.PeriodAggregate{
		agg(models.PeriodCurrent, "1000", 3), // CAC 333.333...
		agg(models.PeriodPrior, "900", 4),    // CAC 225
	}}
	calc := NewCalculator(src, nil, nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)

	cac := row(t, report, models.KPICAC)
	assert.Equal(t, "333.33", fixed(cac.Current))
	assert.Equal(t, "225.00", fixed(cac.Prior))
	require.NotNil(t, cac.Delta)
	assert.Equal(t, "48.15%", *cac.Delta)

	roas := row(t, report, models.KPIROAS)
	assert.Equal(t, "0.30", fixed(roas.Current))
	assert.Equal(t, "0.44", fixed(roas.Prior))
	require.NotNil(t, roas.Delta)
	assert.Equal(t, "-32.50%", *roas.Delta)
}

func TestCompute_InvalidRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"same day", "2024-03-01", "2024-03-01"},
		{"reversed", "2024-03-08", "2024-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{}
			calc := NewCalculator(src, nil, nil, 0)

			report, err := calc.Compute(context.Background(), day(t, tt.start), day(t, tt.end))
			assert.Nil(t, report)

			var rangeErr *InvalidRangeError
			require.ErrorAs(t, err, &rangeErr)
			assert.Contains(t, err.Error(), "must be before")
			assert.Zero(t, src.calls, "data source must not be queried")
		})
	}
}

func TestCompute_SingleDayRange(t *testing.T) {
	src := &stubSource{}
	calc := NewCalculator(src, nil, nil, 0)

	_, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-02"))
	require.NoError(t, err)

	assert.Equal(t, 1, src.window.Current.Days())
	assert.Equal(t, 1, src.window.Prior.Days())
	assert.Equal(t, "2024-02-29", src.window.Prior.Start.Format(models.DateLayout))
}

func TestCompute_DataSourceError(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	calc := NewCalculator(&stubSource{err: cause}, nil, nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	assert.Nil(t, report)

	var dsErr *DataSourceError
	require.ErrorAs(t, err, &dsErr)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCompute_QueryTimeout(t *testing.T) {
	src := &stubSource{}

	_, err := NewCalculator(src, nil, nil, 0).Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)
	assert.False(t, src.deadline)

	_, err = NewCalculator(src, nil, nil, time.Second).Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)
	assert.True(t, src.deadline)
}

func TestCompute_HalfOpenBoundaries(t *testing.T) {
	rec := func(d string, spend int64, conv int64) models.SpendRecord {
		return models.SpendRecord{Date: day(t, d), Spend: decimal.NewFromInt(spend), Conversions: conv}
	}
	src := storage.NewMemorySpendSource(
		rec("2024-03-01", 100, 1), // start date counts as current
		rec("2024-03-08", 900, 1), // end date excluded
		rec("2024-02-29", 50, 1),  // prior
		rec("2024-02-28", 50, 1),  // prior, outside a one-day window
	)
	calc := NewCalculator(src, nil, nil, 0)

	report, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-02"))
	require.NoError(t, err)

	cac := row(t, report, models.KPICAC)
	assert.Equal(t, "100.00", fixed(cac.Current))
	assert.Equal(t, "50.00", fixed(cac.Prior))
	require.NotNil(t, cac.Delta)
	assert.Equal(t, "100.00%", *cac.Delta)
}

func TestCompute_Idempotent(t *testing.T) {
	src := storage.NewMemorySpendSource(
		models.SpendRecord{Date: day(t, "2024-03-03"), Spend: decimal.NewFromInt(1234), Conversions: 7},
		models.SpendRecord{Date: day(t, "2024-02-25"), Spend: decimal.NewFromInt(999), Conversions: 9},
	)
	calc := NewCalculator(src, nil, nil, 0)

	first, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)
	second, err := calc.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompute_RecordsOutcomeMetrics(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	ok := NewCalculator(&stubSource{}, nil, m, 0)
	_, _ = ok.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))
	_, _ = ok.Compute(context.Background(), day(t, "2024-03-08"), day(t, "2024-03-01"))

	failing := NewCalculator(&stubSource{err: errors.New("boom")}, nil, m, 0)
	_, _ = failing.Compute(context.Background(), day(t, "2024-03-01"), day(t, "2024-03-08"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues("invalid_range")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues("datasource_error")))
}
