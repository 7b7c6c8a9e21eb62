package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radiusdt/adspend-kpi/internal/models"
)

// MemorySpendSource keeps spend records in memory. It is used when no
// database is configured.
type MemorySpendSource struct {
	mu      sync.RWMutex
	records []models.SpendRecord
}

// NewMemorySpendSource creates a source holding records.
func NewMemorySpendSource(records ...models.SpendRecord) *MemorySpendSource {
	s := &MemorySpendSource{}
	s.Add(records...)
	return s
}

// Add appends records to the dataset.
func (s *MemorySpendSource) Add(records ...models.SpendRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		r.Date = models.Day(r.Date)
		s.records = append(s.records, r)
	}
}

// Len returns the number of stored records.
func (s *MemorySpendSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// AggregatePeriods sums the records falling into each period of w.
func (s *MemorySpendSource) AggregatePeriods(ctx context.Context, w models.ComparisonWindow) ([]models.PeriodAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type totals struct {
		spend       decimal.Decimal
		conversions int64
	}
	sums := make(map[models.Period]*totals, 2)

	for _, r := range s.records {
		p, ok := w.Classify(r.Date)
		if !ok {
			continue
		}
		t, ok := sums[p]
		if !ok {
			t = &totals{}
			sums[p] = t
		}
		t.spend = t.spend.Add(r.Spend)
		t.conversions += r.Conversions
	}

	var aggs []models.PeriodAggregate
	for _, p := range []models.Period{models.PeriodCurrent, models.PeriodPrior} {
		if t, ok := sums[p]; ok {
			aggs = append(aggs, models.NewPeriodAggregate(p, t.spend, t.conversions))
		}
	}
	return aggs, nil
}

// Ping always succeeds.
func (s *MemorySpendSource) Ping(ctx context.Context) error { return nil }

// =============================================
// CSV SEED
// =============================================

// LoadSpendCSV reads spend records from CSV with a header row. The date,
// spend and conversions columns are required; any other column is ignored.
func LoadSpendCSV(r io.Reader) ([]models.SpendRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cr.FieldsPerRecord = len(header)

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "spend", "conversions"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}

	var records []models.SpendRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		d, err := time.Parse(models.DateLayout, strings.TrimSpace(row[cols["date"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date: %w", line, err)
		}
		spend, err := decimal.NewFromString(strings.TrimSpace(row[cols["spend"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid spend: %w", line, err)
		}
		conversions, err := decimal.NewFromString(strings.TrimSpace(row[cols["conversions"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid conversions: %w", line, err)
		}
		if !conversions.Equal(conversions.Truncate(0)) {
			return nil, fmt.Errorf("line %d: invalid conversions: %s is not a whole number", line, conversions)
		}

		records = append(records, models.SpendRecord{
			Date:        d,
			Spend:       spend,
			Conversions: conversions.IntPart(),
		})
	}

	return records, nil
}
