package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Overview summarizes validation traffic over a time window.
type Overview struct {
	WindowSeconds    int64   `json:"window_seconds"`
	TotalCalls       int64   `json:"total_calls"`
	ValidCalls       int64   `json:"valid_calls"`
	RejectedCalls    int64   `json:"rejected_calls"`
	ThrottledCalls   int64   `json:"throttled_calls"`
	UniqueServices   int64   `json:"unique_services"`
	ThrottleRate     float64 `json:"throttle_rate"`
}

// TopThrottledService represents a caller with the highest throttled call count.
type TopThrottledService struct {
	Service        string `json:"service"`
	ThrottledCount int64  `json:"throttled_count"`
}

// TimelinePoint is a single bucket in an audit timeline series.
type TimelinePoint struct {
	BucketStart time.Time `json:"bucket_start"`
	Valid       int64     `json:"valid"`
	Rejected    int64     `json:"rejected"`
	Throttled   int64     `json:"throttled"`
	Total       int64     `json:"total"`
}

// QueryService provides read-only audit queries backed by PostgreSQL.
type QueryService struct {
	db *sql.DB
}

// NewQueryService constructs an audit query service.
func NewQueryService(db *sql.DB) (*QueryService, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: query service requires database connection")
	}

	return &QueryService{db: db}, nil
}

// GetOverview returns top-level call metrics for a time window.
func (s *QueryService) GetOverview(ctx context.Context, window time.Duration) (Overview, error) {
	if window <= 0 {
		return Overview{}, fmt.Errorf("audit: window must be greater than zero")
	}

	since := time.Now().Add(-window)

	var out Overview
	out.WindowSeconds = int64(window.Seconds())

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total_calls,
			COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0) AS valid_calls,
			COALESCE(SUM(CASE WHEN outcome NOT IN ('ok', 'rate_limited') THEN 1 ELSE 0 END), 0) AS rejected_calls,
			COALESCE(SUM(CASE WHEN outcome = 'rate_limited' THEN 1 ELSE 0 END), 0) AS throttled_calls,
			COUNT(DISTINCT service_name) AS unique_services
		FROM call_log
		WHERE "timestamp" >= $1
	`, since).Scan(
		&out.TotalCalls,
		&out.ValidCalls,
		&out.RejectedCalls,
		&out.ThrottledCalls,
		&out.UniqueServices,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("audit: overview query failed: %w", err)
	}

	if out.TotalCalls > 0 {
		out.ThrottleRate = float64(out.ThrottledCalls) / float64(out.TotalCalls)
	}

	return out, nil
}

// GetTopThrottled returns callers with the highest throttled call counts.
func (s *QueryService) GetTopThrottled(ctx context.Context, window time.Duration, limit int) ([]TopThrottledService, error) {
	if window <= 0 {
		return nil, fmt.Errorf("audit: window must be greater than zero")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("audit: limit must be greater than zero")
	}

	since := time.Now().Add(-window)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			service_name,
			COUNT(*) AS throttled_count
		FROM call_log
		WHERE outcome = 'rate_limited' AND "timestamp" >= $1
		GROUP BY service_name
		ORDER BY throttled_count DESC, service_name ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: top-throttled query failed: %w", err)
	}
	defer rows.Close()

	out := make([]TopThrottledService, 0, limit)
	for rows.Next() {
		var item TopThrottledService
		if scanErr := rows.Scan(&item.Service, &item.ThrottledCount); scanErr != nil {
			return nil, fmt.Errorf("audit: failed scanning top-throttled row: %w", scanErr)
		}
		out = append(out, item)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("audit: top-throttled rows iteration failed: %w", rowsErr)
	}

	return out, nil
}

// GetTimeline returns call outcome counts bucketed by time interval.
func (s *QueryService) GetTimeline(ctx context.Context, window, bucket time.Duration) ([]TimelinePoint, error) {
	if window <= 0 {
		return nil, fmt.Errorf("audit: window must be greater than zero")
	}
	if bucket <= 0 {
		return nil, fmt.Errorf("audit: bucket must be greater than zero")
	}

	since := time.Now().Add(-window)
	bucketSeconds := int64(bucket.Seconds())

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			to_timestamp(FLOOR(EXTRACT(EPOCH FROM "timestamp") / $1) * $1)::timestamptz AS bucket_start,
			COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0) AS valid_count,
			COALESCE(SUM(CASE WHEN outcome NOT IN ('ok', 'rate_limited') THEN 1 ELSE 0 END), 0) AS rejected_count,
			COALESCE(SUM(CASE WHEN outcome = 'rate_limited' THEN 1 ELSE 0 END), 0) AS throttled_count
		FROM call_log
		WHERE "timestamp" >= $2
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, bucketSeconds, since)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query failed: %w", err)
	}
	defer rows.Close()

	out := make([]TimelinePoint, 0)
	for rows.Next() {
		var point TimelinePoint
		if scanErr := rows.Scan(&point.BucketStart, &point.Valid, &point.Rejected, &point.Throttled); scanErr != nil {
			return nil, fmt.Errorf("audit: failed scanning timeline row: %w", scanErr)
		}
		point.Total = point.Valid + point.Rejected + point.Throttled
		out = append(out, point)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("audit: timeline rows iteration failed: %w", rowsErr)
	}

	return out, nil
}
