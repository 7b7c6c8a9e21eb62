package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/adspend-kpi/internal/models"
)

func record(day string, spend string, conversions int64) models.SpendRecord {
	d, err := time.Parse(models.DateLayout, day)
	if err != nil {
		panic(err)
	}
	return models.SpendRecord{Date: d, Spend: decimal.RequireFromString(spend), Conversions: conversions}
}

func TestMemorySpendSource_AggregatePeriods(t *testing.T) {
	src := NewMemorySpendSource(
		record("2024-02-22", "999", 99), // before prior window
		record("2024-02-23", "300", 3),
		record("2024-02-29", "500", 5),
		record("2024-03-01", "400", 4), // first day of current period
		record("2024-03-07", "600", 6),
		record("2024-03-08", "999", 99), // end date is exclusive
	)

	aggs, err := src.AggregatePeriods(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	assert.Equal(t, models.PeriodCurrent, aggs[0].Period)
	assert.Equal(t, "1000", aggs[0].TotalSpend.String())
	assert.Equal(t, int64(10), aggs[0].TotalConversions)

	assert.Equal(t, models.PeriodPrior, aggs[1].Period)
	assert.Equal(t, "800", aggs[1].TotalSpend.String())
	assert.Equal(t, int64(8), aggs[1].TotalConversions)
	assert.Equal(t, "800", aggs[1].TotalRevenue.String())
}

func TestMemorySpendSource_OmitsEmptyPeriods(t *testing.T) {
	src := NewMemorySpendSource(record("2024-03-02", "10", 1))

	aggs, err := src.AggregatePeriods(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, models.PeriodCurrent, aggs[0].Period)
}

func TestMemorySpendSource_CanceledContext(t *testing.T) {
	src := NewMemorySpendSource(record("2024-03-02", "10", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.AggregatePeriods(ctx, testWindow())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySpendSource_AddNormalizesDates(t *testing.T) {
	src := NewMemorySpendSource()
	src.Add(models.SpendRecord{
		Date:        time.Date(2024, 3, 7, 18, 30, 0, 0, time.UTC),
		Spend:       decimal.NewFromInt(5),
		Conversions: 1,
	})
	assert.Equal(t, 1, src.Len())

	aggs, err := src.AggregatePeriods(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, models.PeriodCurrent, aggs[0].Period)
}

func TestLoadSpendCSV(t *testing.T) {
	input := `date,platform,account,campaign,country,device,spend,clicks,impressions,conversions
2025-06-01,Meta,AcctA,Prospecting,MX,Desktop,1115.94,1129,56057,32
2025-06-02,Google,AcctB,Retargeting,US,Mobile,  250.5,10,1000,2.0
`
	records, err := LoadSpendCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2025-06-01", records[0].Date.Format(models.DateLayout))
	assert.Equal(t, "1115.94", records[0].Spend.String())
	assert.Equal(t, int64(32), records[0].Conversions)
	assert.Equal(t, "250.5", records[1].Spend.String())
	assert.Equal(t, int64(2), records[1].Conversions)
}

func TestLoadSpendCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty", "", "csv is empty"},
		{"missing column", "date,spend\n2025-06-01,10\n", `missing column "conversions"`},
		{"bad date", "date,spend,conversions\n06/01/2025,10,1\n", "line 2: invalid date"},
		{"bad spend", "date,spend,conversions\n2025-06-01,ten,1\n", "line 2: invalid spend"},
		{"bad conversions", "date,spend,conversions\n2025-06-01,10,x\n", "line 2: invalid conversions"},
		{"fractional conversions", "date,spend,conversions\n2025-06-01,10,2.5\n", "line 2: invalid conversions: 2.5 is not a whole number"},
		{"short row", "date,spend,conversions\n2025-06-01,10\n", "line 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSpendCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
