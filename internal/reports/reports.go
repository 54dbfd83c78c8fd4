// Package reports builds periodic spending summaries from the transaction
// log. Aggregation happens in SQL; this layer picks the bucketing and the
// lookback window.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// Bucket selects the reporting period.
type Bucket string

const (
	BucketDaily   Bucket = "daily"
	BucketWeekly  Bucket = "weekly"
	BucketMonthly Bucket = "monthly"
)

var ErrInvalidBucket = errors.New("report type must be daily, weekly or monthly")

func ParseBucket(s string) (Bucket, error) {
	switch Bucket(strings.ToLower(strings.TrimSpace(s))) {
	case BucketDaily:
		return BucketDaily, nil
	case BucketWeekly:
		return BucketWeekly, nil
	case BucketMonthly:
		return BucketMonthly, nil
	default:
		return "", ErrInvalidBucket
	}
}

// Windows bounds how far back each report looks.
type Windows struct {
	DailyDays     int
	WeeklyWeeks   int
	MonthlyMonths int
}

func DefaultWindows() Windows {
	return Windows{DailyDays: 15, WeeklyWeeks: 12, MonthlyMonths: 12}
}

// Row is one aggregated cell: spending on a category from an account within
// one bucket.
type Row struct {
	Account     core.AccountType `json:"account"`
	Category    string           `json:"category"`
	BucketStart time.Time        `json:"bucket_start"`
	Total       core.Money       `json:"total"`
}

// Report is a spending summary ready for serialization.
type Report struct {
	Bucket      Bucket    `json:"type"`
	Since       time.Time `json:"since"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"rows"`
}

type Service struct {
	queries *storage.Queries
	windows Windows
	now     func() time.Time
}

func NewService(queries *storage.Queries, windows Windows) *Service {
	defaults := DefaultWindows()
	if windows.DailyDays <= 0 {
		windows.DailyDays = defaults.DailyDays
	}
	if windows.WeeklyWeeks <= 0 {
		windows.WeeklyWeeks = defaults.WeeklyWeeks
	}
	if windows.MonthlyMonths <= 0 {
		windows.MonthlyMonths = defaults.MonthlyMonths
	}
	return &Service{queries: queries, windows: windows, now: time.Now}
}

// Spending aggregates the user's categorized expenses over the bucket's
// lookback window, newest bucket first.
func (s *Service) Spending(ctx context.Context, userID int64, bucket Bucket) (*Report, error) {
	now := s.now().UTC()

	var (
		since time.Time
		rows  []storage.SpendingRow
		err   error
	)
	switch bucket {
	case BucketDaily:
		since = now.AddDate(0, 0, -s.windows.DailyDays)
		rows, err = s.queries.AggregateSpendingDaily(ctx, userID, since)
	case BucketWeekly:
		since = now.AddDate(0, 0, -7*s.windows.WeeklyWeeks)
		rows, err = s.queries.AggregateSpendingWeekly(ctx, userID, since)
	case BucketMonthly:
		since = now.AddDate(0, -s.windows.MonthlyMonths, 0)
		rows, err = s.queries.AggregateSpendingMonthly(ctx, userID, since)
	default:
		return nil, ErrInvalidBucket
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate %s spending: %w", bucket, err)
	}

	report := &Report{
		Bucket:      bucket,
		Since:       since,
		GeneratedAt: now,
		Rows:        make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		report.Rows = append(report.Rows, Row{
			Account:     r.Account,
			Category:    r.Category,
			BucketStart: r.BucketStart,
			Total:       core.Money{Cents: r.TotalCents},
		})
	}
	return report, nil
}
