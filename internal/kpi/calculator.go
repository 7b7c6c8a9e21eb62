// Package kpi computes CAC and ROAS for a date range against the
// equal-length period that precedes it.
package kpi

import (
	"context"
	"time"

	"github.com/radiusdt/adspend-kpi/internal/metrics"
	"github.com/radiusdt/adspend-kpi/internal/models"
	"github.com/radiusdt/adspend-kpi/internal/storage"
	"go.uber.org/zap"
)

// Calculator turns spend aggregates into a period-over-period KPI report.
type Calculator struct {
	source       storage.SpendSource
	logger       *zap.Logger
	metrics      *metrics.Metrics
	queryTimeout time.Duration
}

// NewCalculator creates a calculator reading from source. A zero
// queryTimeout leaves deadlines to the caller's context.
func NewCalculator(source storage.SpendSource, logger *zap.Logger, m *metrics.Metrics, queryTimeout time.Duration) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		source:       source,
		logger:       logger,
		metrics:      m,
		queryTimeout: queryTimeout,
	}
}

// Compute builds the comparison report for [start, end). It returns
// *InvalidRangeError when start is not before end and *DataSourceError
// when the aggregation query fails. There is no partial result.
func (c *Calculator) Compute(ctx context.Context, start, end time.Time) (*models.ComparisonReport, error) {
	began := time.Now()
	report, err := c.compute(ctx, start, end)
	if c.metrics != nil {
		c.metrics.RecordComputation(outcome(err), time.Since(began))
	}
	return report, err
}

func (c *Calculator) compute(ctx context.Context, start, end time.Time) (*models.ComparisonReport, error) {
	requested := models.DateRange{Start: models.Day(start), End: models.Day(end)}
	if !requested.Start.Before(requested.End) {
		return nil, &InvalidRangeError{Start: requested.Start, End: requested.End}
	}

	window := models.NewComparisonWindow(requested)

	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	aggs, err := c.source.AggregatePeriods(ctx, window)
	if err != nil {
		return nil, &DataSourceError{Err: err}
	}

	byPeriod := make(map[models.Period]models.PeriodAggregate, 2)
	for _, a := range aggs {
		if a.Period != models.PeriodCurrent && a.Period != models.PeriodPrior {
			continue
		}
		if prev, ok := byPeriod[a.Period]; ok {
			a = models.NewPeriodAggregate(a.Period, prev.TotalSpend.Add(a.TotalSpend), prev.TotalConversions+a.TotalConversions)
		}
		byPeriod[a.Period] = a
	}

	c.logger.Debug("aggregated spend",
		zap.String("start_date", window.Current.Start.Format(models.DateLayout)),
		zap.String("end_date", window.Current.End.Format(models.DateLayout)),
		zap.String("prior_start_date", window.Prior.Start.Format(models.DateLayout)),
		zap.Int("periods", len(byPeriod)),
	)

	rows := make([]models.ComparisonRow, 0, len(models.ReportedKPIs))
	for _, k := range models.ReportedKPIs {
		v := models.KPIValue{
			KPI:     k,
			Current: kpiValue(k, byPeriod, models.PeriodCurrent),
			Prior:   kpiValue(k, byPeriod, models.PeriodPrior),
		}
		rows = append(rows, v.Row())
	}

	return &models.ComparisonReport{
		RequestedPeriod: requested,
		ComparisonData:  rows,
	}, nil
}

func kpiValue(k models.KPI, byPeriod map[models.Period]models.PeriodAggregate, p models.Period) models.Value {
	agg, ok := byPeriod[p]
	if !ok {
		return models.Null()
	}
	switch k {
	case models.KPICAC:
		if v, ok := agg.CAC(); ok {
			return models.Some(v)
		}
	case models.KPIROAS:
		if v, ok := agg.ROAS(); ok {
			return models.Some(v)
		}
	}
	return models.Null()
}

func outcome(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *InvalidRangeError:
		return "invalid_range"
	case *DataSourceError:
		return "datasource_error"
	default:
		return "error"
	}
}
