// Package repository contains the hand-written query layer.
//
// This file implements the usage counter store. The quota check and the
// increment execute as a single conditional upsert so that concurrent
// requests for the same (user, dimension, period) serialize inside
// Postgres rather than racing through a read-then-write pair.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
)

const incrementIfUnderLimit = `
INSERT INTO usage_counters (user_id, dimension, period_key, value, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (user_id, dimension, period_key) DO UPDATE
SET value = usage_counters.value + 1, updated_at = now()
WHERE usage_counters.value < $4
RETURNING value
`

// IncrementIfUnderLimit atomically increments the counter for
// (user, dimension, periodKey) if the post-increment value would be at
// most limit. It returns the new value and allowed=true on success, and
// allowed=false without touching the counter when the limit is already
// reached. A limit below 1 never allows and never creates a row.
func (q *Queries) IncrementIfUnderLimit(
	ctx context.Context,
	userID uuid.UUID,
	dimension domain.Dimension,
	periodKey string,
	limit int64,
) (int64, bool, error) {
	if limit < 1 {
		// The insert arm of the upsert cannot compare against the limit,
		// so a zero limit is rejected before touching the store.
		return 0, false, nil
	}

	var value int64
	err := q.db.QueryRowContext(ctx, incrementIfUnderLimit, userID, dimension, periodKey, limit).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment usage counter: %w", err)
	}
	return value, true, nil
}

const peekUsage = `
SELECT value FROM usage_counters
WHERE user_id = $1 AND dimension = $2 AND period_key = $3
`

// PeekUsage returns the current counter value without modifying it.
// A counter that has never been incremented reads as zero.
func (q *Queries) PeekUsage(
	ctx context.Context,
	userID uuid.UUID,
	dimension domain.Dimension,
	periodKey string,
) (int64, error) {
	var value int64
	err := q.db.QueryRowContext(ctx, peekUsage, userID, dimension, periodKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("peek usage counter: %w", err)
	}
	return value, nil
}

const sumUsageBetween = `
SELECT COALESCE(SUM(value), 0) FROM usage_counters
WHERE user_id = $1 AND dimension = $2 AND period_key BETWEEN $3 AND $4
`

// SumUsageBetween sums counter values for day keys in [fromKey, toKey].
// Day keys are zero-padded ISO dates, so the lexicographic BETWEEN matches
// the chronological window.
func (q *Queries) SumUsageBetween(
	ctx context.Context,
	userID uuid.UUID,
	dimension domain.Dimension,
	fromKey, toKey string,
) (int64, error) {
	var sum int64
	err := q.db.QueryRowContext(ctx, sumUsageBetween, userID, dimension, fromKey, toKey).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum usage counters: %w", err)
	}
	return sum, nil
}

const listUsageForPeriod = `
SELECT user_id, dimension, period_key, value, updated_at FROM usage_counters
WHERE user_id = $1 AND period_key = ANY(ARRAY[$2, $3])
`

// ListUsage returns all counters for a user across the given day and
// month period keys. Used by the read-only usage endpoint.
func (q *Queries) ListUsage(
	ctx context.Context,
	userID uuid.UUID,
	dayKey, monthKey string,
) ([]domain.UsageCounter, error) {
	rows, err := q.db.QueryContext(ctx, listUsageForPeriod, userID, dayKey, monthKey)
	if err != nil {
		return nil, fmt.Errorf("list usage counters: %w", err)
	}
	defer rows.Close()

	var counters []domain.UsageCounter
	for rows.Next() {
		var c domain.UsageCounter
		var updatedAt time.Time
		if err := rows.Scan(&c.UserID, &c.Dimension, &c.PeriodKey, &c.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan usage counter: %w", err)
		}
		c.UpdatedAt = updatedAt
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
