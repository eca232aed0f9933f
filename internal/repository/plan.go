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

// Plans and subscriptions are owned by the billing system; this engine
// only reads them.

const getPlan = `
SELECT code, daily_session_quota, session_question_quota, monthly_document_quota,
       max_session_minutes, allows_continuous_study, allows_extended_session,
       conditional_extra_sessions, report_tier
FROM plans WHERE code = $1
`

// GetPlan returns a plan by code, or nil if it does not exist.
func (q *Queries) GetPlan(ctx context.Context, code string) (*domain.Plan, error) {
	var p domain.Plan
	var maxSessionMinutes int
	err := q.db.QueryRowContext(ctx, getPlan, code).Scan(
		&p.Code, &p.DailySessionQuota, &p.SessionQuestionQuota, &p.MonthlyDocumentQuota,
		&maxSessionMinutes, &p.AllowsContinuousStudy, &p.AllowsExtendedSession,
		&p.ConditionalExtraSessions, &p.ReportTier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	p.MaxSessionDuration = time.Duration(maxSessionMinutes) * time.Minute
	return &p, nil
}

const getLatestSubscription = `
SELECT user_id, plan_code, status, starts_at, ends_at
FROM subscriptions
WHERE user_id = $1
ORDER BY starts_at DESC
LIMIT 1
`

// GetLatestSubscription returns the user's most recent subscription, or
// nil if the user has never subscribed. Expiry is evaluated by the
// caller against the configured timezone.
func (q *Queries) GetLatestSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	var s domain.Subscription
	var endsAt sql.NullTime
	err := q.db.QueryRowContext(ctx, getLatestSubscription, userID).
		Scan(&s.UserID, &s.PlanCode, &s.Status, &s.StartsAt, &endsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if endsAt.Valid {
		s.EndsAt = endsAt.Time
	}
	return &s, nil
}
