package models

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// KPI names a reported metric.
type KPI string

const (
	KPICAC  KPI = "CAC"
	KPIROAS KPI = "ROAS"
)

// ReportedKPIs is the fixed row order of a comparison report.
var ReportedKPIs = []KPI{KPICAC, KPIROAS}

// ===========================================
// VALUES
// ===========================================

// Value is an optional decimal. The zero Value is null.
type Value struct {
	decimal.NullDecimal
}

// Some wraps d as a present Value.
func Some(d decimal.Decimal) Value {
	return Value{decimal.NullDecimal{Decimal: d, Valid: true}}
}

// Null is the absent Value.
func Null() Value { return Value{} }

// Round returns v rounded half away from zero to places decimals.
func (v Value) Round(places int32) Value {
	if !v.Valid {
		return v
	}
	return Some(v.Decimal.Round(places))
}

// MarshalJSON encodes v as a bare number with two decimals, or null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return []byte(v.Decimal.StringFixed(2)), nil
}

// UnmarshalJSON accepts a number, a numeric string or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Null()
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*v = Some(d)
	return nil
}

// KPIValue carries the unrounded current and prior values of one KPI.
type KPIValue struct {
	KPI     KPI
	Current Value
	Prior   Value
}

// Delta is the percentage change from Prior to Current. It is null when
// either side is missing or the prior value is zero.
func (k KPIValue) Delta() Value {
	if !k.Current.Valid || !k.Prior.Valid || k.Prior.Decimal.IsZero() {
		return Null()
	}
	change := k.Current.Decimal.Sub(k.Prior.Decimal).Div(k.Prior.Decimal)
	return Some(change.Mul(decimal.NewFromInt(100)))
}

// Row renders k as a report row.
func (k KPIValue) Row() ComparisonRow {
	row := ComparisonRow{
		KPI:     k.KPI,
		Current: k.Current.Round(2),
		Prior:   k.Prior.Round(2),
	}
	if d := k.Delta(); d.Valid {
		s := d.Decimal.StringFixed(2) + "%"
		row.Delta = &s
	}
	return row
}

// ===========================================
// REPORT
// ===========================================

// ComparisonRow is one KPI line of the response.
type ComparisonRow struct {
	KPI     KPI     `json:"kpi"`
	Current Value   `json:"current_period_value"`
	Prior   Value   `json:"prior_period_value"`
	Delta   *string `json:"delta"`
}

// ComparisonReport is the response of the metrics endpoint.
type ComparisonReport struct {
	RequestedPeriod DateRange       `json:"requested_period"`
	ComparisonData  []ComparisonRow `json:"comparison_data"`
}

// MarshalJSON encodes the range as ISO calendar dates.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start_date"`
		End   string `json:"end_date"`
	}{
		Start: r.Start.Format(DateLayout),
		End:   r.End.Format(DateLayout),
	})
}
