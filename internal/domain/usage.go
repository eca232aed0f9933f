// Package domain contains core business types and interfaces.
//
// This file defines quota dimensions, period keys, and the usage counter
// and escape valve grant records owned by this engine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dimension identifies one countable quota resource.
type Dimension string

const (
	DimensionSessions  Dimension = "sessions_counted"
	DimensionQuestions Dimension = "questions_in_open_session"
	DimensionDocuments Dimension = "documents_this_month"
)

// Period key layouts. Day and month keys are zero-padded ISO fragments so
// that lexicographic order matches chronological order; range scans over
// period_key rely on this.
const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

// DayKey returns the period key for the calendar day containing t.
// All day boundaries are evaluated in t's location; callers pass a time
// already converted to the single configured boundary timezone.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// MonthKey returns the period key for the calendar month containing t.
func MonthKey(t time.Time) string {
	return t.Format(monthKeyLayout)
}

// SessionKey returns the period key for a per-session counter.
func SessionKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("s:%s", sessionID)
}

// DayKeysBack returns the day keys for the n calendar days ending at t
// (t's day inclusive), oldest first. Used for trailing-usage windows.
func DayKeysBack(t time.Time, n int) []string {
	keys := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		keys = append(keys, DayKey(t.AddDate(0, 0, -i)))
	}
	return keys
}

// NextDayReset returns the instant the daily quota resets: midnight of the
// following day in t's location.
func NextDayReset(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// NextMonthReset returns the instant the monthly quota resets: the first
// of the following month in t's location.
func NextMonthReset(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
}

// UsageCounter is one durable counter row. Counters are created lazily on
// first increment, are monotonically non-decreasing within their period,
// and are never deleted; a new period gets a new row.
type UsageCounter struct {
	UserID    uuid.UUID
	Dimension Dimension
	PeriodKey string
	Value     int64
	UpdatedAt time.Time
}

// EscapeValveGrant records a one-time daily quota boost issued to a
// sustained high-usage user. At most one grant exists per (user, day);
// rows are never mutated.
type EscapeValveGrant struct {
	UserID        uuid.UUID
	Day           string
	ExtraSessions int
	SevenDayUsage int64
	Criterion     string
	CreatedAt     time.Time
}

// GrantResult is the outcome of an escape valve evaluation.
type GrantResult struct {
	Granted       bool
	ExtraSessions int
	SevenDayUsage int64
}
