package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used on the wire.
const DateLayout = "2006-01-02"

// RevenuePerConversion stands in for the average order value. Revenue is
// never stored in the dataset; it is derived as conversions * this value.
var RevenuePerConversion = decimal.NewFromInt(100)

// ===========================================
// SPEND RECORD
// ===========================================

// SpendRecord is one row of the raw_ads_spend dataset.
type SpendRecord struct {
	Date        time.Time       `json:"date"`
	Spend       decimal.Decimal `json:"spend"`
	Conversions int64           `json:"conversions"`
}

// ===========================================
// PERIODS
// ===========================================

// Period identifies which comparison window a record falls into.
type Period string

const (
	PeriodCurrent Period = "Current Period"
	PeriodPrior   Period = "Prior Period"
)

// DateRange is a half-open span of calendar days [Start, End).
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

const secondsPerDay = 24 * 60 * 60

// Days returns the number of whole days in the range. It counts from Unix
// seconds because time.Duration saturates past roughly 292 years.
func (r DateRange) Days() int {
	return int((Day(r.End).Unix() - Day(r.Start).Unix()) / secondsPerDay)
}

// Contains reports whether d falls inside [Start, End).
func (r DateRange) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(r.Start) && d.Before(r.End)
}

// ComparisonWindow pairs the requested range with the equal-length range
// that immediately precedes it.
type ComparisonWindow struct {
	Current DateRange
	Prior   DateRange
}

// NewComparisonWindow derives the prior window for r. The prior window ends
// exactly where r starts and spans the same number of days.
func NewComparisonWindow(r DateRange) ComparisonWindow {
	start, end := Day(r.Start), Day(r.End)
	days := DateRange{Start: start, End: end}.Days()
	return ComparisonWindow{
		Current: DateRange{Start: start, End: end},
		Prior:   DateRange{Start: start.AddDate(0, 0, -days), End: start},
	}
}

// Bounds returns the full span [Prior.Start, Current.End) covered by w.
func (w ComparisonWindow) Bounds() DateRange {
	return DateRange{Start: w.Prior.Start, End: w.Current.End}
}

// Classify returns the period d belongs to. ok is false for dates outside
// both windows.
func (w ComparisonWindow) Classify(d time.Time) (Period, bool) {
	switch {
	case w.Current.Contains(d):
		return PeriodCurrent, true
	case w.Prior.Contains(d):
		return PeriodPrior, true
	default:
		return "", false
	}
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ===========================================
// AGGREGATES
// ===========================================

// PeriodAggregate holds the summed dataset values for one period.
type PeriodAggregate struct {
	Period           Period          `json:"period"`
	TotalSpend       decimal.Decimal `json:"total_spend"`
	TotalConversions int64           `json:"total_conversions"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

// NewPeriodAggregate builds an aggregate and derives its revenue.
func NewPeriodAggregate(p Period, spend decimal.Decimal, conversions int64) PeriodAggregate {
	return PeriodAggregate{
		Period:           p,
		TotalSpend:       spend,
		TotalConversions: conversions,
		TotalRevenue:     decimal.NewFromInt(conversions).Mul(RevenuePerConversion),
	}
}

// CAC is spend per conversion. ok is false when there were no conversions.
func (a PeriodAggregate) CAC() (decimal.Decimal, bool) {
	if a.TotalConversions == 0 {
		return decimal.Zero, false
	}
	return a.TotalSpend.Div(decimal.NewFromInt(a.TotalConversions)), true
}

// ROAS is revenue per unit of spend. ok is false when nothing was spent.
func (a PeriodAggregate) ROAS() (decimal.Decimal, bool) {
	if a.TotalSpend.IsZero() {
		return decimal.Zero, false
	}
	return a.TotalRevenue.Div(a.TotalSpend), true
}
