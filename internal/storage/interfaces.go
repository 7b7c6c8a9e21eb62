package storage

import (
	"context"

	"github.com/radiusdt/adspend-kpi/internal/models"
)

// =============================================
// SPEND SOURCE
// =============================================

// SpendSource aggregates the raw_ads_spend dataset over a comparison
// window. Implementations return at most one aggregate per period and omit
// periods without any rows. Records outside both windows never contribute.
type SpendSource interface {
	AggregatePeriods(ctx context.Context, w models.ComparisonWindow) ([]models.PeriodAggregate, error)
}

// Pinger is implemented by sources that can check their backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}
