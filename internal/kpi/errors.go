package kpi

import (
	"fmt"
	"time"

	"github.com/radiusdt/adspend-kpi/internal/models"
)

// InvalidRangeError is returned when the requested start date does not
// strictly precede the end date.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("start_date (%s) must be before end_date (%s)",
		e.Start.Format(models.DateLayout), e.End.Format(models.DateLayout))
}

// DataSourceError wraps any failure to connect to, query or read from the
// spend dataset.
type DataSourceError struct {
	Err error
}

func (e *DataSourceError) Error() string {
	if e == nil || e.Err == nil {
		return "data source error"
	}
	return "data source error: " + e.Err.Error()
}

// Unwrap returns the underlying driver error.
func (e *DataSourceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
