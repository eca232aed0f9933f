// Package service contains the business logic layer.
//
// This file implements the policy evaluator: the single entry point that
// decides whether a user may perform an action right now. It resolves the
// effective plan (base plan plus experiment overrides), runs the quota
// check for metered actions through the atomic counter store, consults
// the escape valve when the daily quota is exhausted, and records every
// decision in the audit log.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/metrics"
)

// UsageStore is the atomic counter primitive the evaluator meters
// against. Implementations must make the limit check and the increment a
// single indivisible step per (user, dimension, period).
type UsageStore interface {
	IncrementIfUnderLimit(ctx context.Context, userID uuid.UUID, dimension domain.Dimension, periodKey string, limit int64) (int64, bool, error)
	PeekUsage(ctx context.Context, userID uuid.UUID, dimension domain.Dimension, periodKey string) (int64, error)
}

// SubscriptionSource resolves a user's subscription and plan.
type SubscriptionSource interface {
	SubscriptionFor(ctx context.Context, userID uuid.UUID) (*domain.Subscription, *domain.Plan, error)
}

// OverrideSource resolves experiment overrides for a user on a plan.
type OverrideSource interface {
	OverridesFor(ctx context.Context, userID uuid.UUID, planCode string, now time.Time) ([]domain.AppliedExperiment, []domain.PlanOverride, error)
}

// Policy is the enforcement entry point consumed by the request layer.
type Policy interface {
	// Evaluate decides whether userID may perform action now. Denials are
	// normal Decision values, not errors. A non-nil error means the engine
	// could not decide (store unreachable, bad input); callers must treat
	// it as fail-closed and deny the action.
	Evaluate(ctx context.Context, userID uuid.UUID, action domain.ActionKind, actx domain.ActionContext) (*domain.Decision, error)
}

type policyService struct {
	subs      SubscriptionSource
	overrides OverrideSource
	usage     UsageStore
	valve     EscapeValve
	audit     AuditLog
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewPolicy creates the policy evaluator. All day and month boundaries
// are computed in loc, the single configured boundary timezone.
func NewPolicy(
	subs SubscriptionSource,
	overrides OverrideSource,
	usage UsageStore,
	valve EscapeValve,
	audit AuditLog,
	loc *time.Location,
	logger *slog.Logger,
) Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &policyService{
		subs:      subs,
		overrides: overrides,
		usage:     usage,
		valve:     valve,
		audit:     audit,
		loc:       loc,
		logger:    logger.With(slog.String("component", "policy")),
		now:       time.Now,
	}
}

func (s *policyService) Evaluate(ctx context.Context, userID uuid.UUID, action domain.ActionKind, actx domain.ActionContext) (*domain.Decision, error) {
	const op = "policy.evaluate"

	if userID == uuid.Nil {
		return nil, domain.Invalid(op, "user id is required")
	}
	if !action.Valid() {
		return nil, domain.Invalid(op, "unknown action kind")
	}
	if action == domain.ActionAnswerQuestion && actx.OpenSessionID == uuid.Nil {
		return nil, domain.Invalid(op, "open session id is required for answer_question")
	}

	now := s.now().In(s.loc)

	sub, plan, err := s.subs.SubscriptionFor(ctx, userID)
	if err != nil {
		return nil, s.unavailable(err, op)
	}

	if sub == nil || sub.Status == domain.SubscriptionStatusNone {
		return s.finish(ctx, userID, action, actx, now, nil, &domain.Decision{
			Reason: domain.ReasonNoActiveSubscription,
		}), nil
	}
	if !sub.ActiveAt(now) {
		return s.finish(ctx, userID, action, actx, now, nil, &domain.Decision{
			Reason:   domain.ReasonSubscriptionExpired,
			PlanCode: sub.PlanCode,
		}), nil
	}
	if plan == nil {
		return nil, domain.Internal(nil, op, "subscription references unknown plan "+sub.PlanCode)
	}

	applied, planOverrides, err := s.overrides.OverridesFor(ctx, userID, plan.Code, now)
	if err != nil {
		// Experiment resolution is not load-bearing for enforcement: fall
		// back to the base plan rather than blocking the action.
		s.logger.Warn("experiment override resolution failed, using base plan",
			"error", err, "user_id", userID, "plan", plan.Code)
		applied, planOverrides = nil, nil
	}
	eff := domain.EffectivePlan(*plan, planOverrides...)

	var decision *domain.Decision
	switch action {
	case domain.ActionStartSession:
		decision, err = s.evaluateStartSession(ctx, userID, actx, eff, now)
	case domain.ActionAnswerQuestion:
		decision, err = s.evaluateAnswerQuestion(ctx, userID, actx, eff)
	case domain.ActionPracticeDocument:
		decision, err = s.evaluatePracticeDocument(ctx, userID, eff, now)
	case domain.ActionViewFullReport:
		decision = s.evaluateViewFullReport(eff)
	}
	if err != nil {
		return nil, s.unavailable(err, op)
	}

	decision.PlanCode = plan.Code
	decision.Experiments = applied
	return s.finish(ctx, userID, action, actx, now, applied, decision), nil
}

func (s *policyService) evaluateStartSession(ctx context.Context, userID uuid.UUID, actx domain.ActionContext, eff domain.Plan, now time.Time) (*domain.Decision, error) {
	dayKey := domain.DayKey(now)
	limit := int64(eff.DailySessionQuota)

	if actx.ContinuousStudy {
		if !eff.AllowsContinuousStudy {
			return s.denied(ctx, userID, domain.ReasonContinuousStudyNotAllowed, domain.DimensionSessions, dayKey, limit, nil), nil
		}
		// Continuous study is unmetered: allowed without touching the
		// daily session counter.
		return &domain.Decision{
			Allowed:      true,
			Reason:       domain.ReasonAllowed,
			CurrentUsage: s.peek(ctx, userID, domain.DimensionSessions, dayKey),
			Limit:        limit,
		}, nil
	}

	value, allowed, err := s.usage.IncrementIfUnderLimit(ctx, userID, domain.DimensionSessions, dayKey, limit)
	if err != nil {
		return nil, err
	}
	if allowed {
		return &domain.Decision{
			Allowed:           true,
			Reason:            domain.ReasonAllowed,
			CurrentUsage:      value,
			Limit:             limit,
			CountsTowardQuota: true,
		}, nil
	}

	// Base quota exhausted: the escape valve may boost today's limit for
	// sustained high-usage users on eligible plans.
	grant, gerr := s.valve.TryGrant(ctx, userID, eff, now)
	if gerr != nil {
		// The valve is an enhancement; its failure must not turn a plain
		// deny into a system error.
		s.logger.Warn("escape valve evaluation failed", "error", gerr, "user_id", userID)
	}
	if grant.Granted {
		boosted := limit + int64(grant.ExtraSessions)
		value, allowed, err = s.usage.IncrementIfUnderLimit(ctx, userID, domain.DimensionSessions, dayKey, boosted)
		if err != nil {
			return nil, err
		}
		if allowed {
			return &domain.Decision{
				Allowed:           true,
				Reason:            domain.ReasonAllowed,
				CurrentUsage:      value,
				Limit:             boosted,
				CountsTowardQuota: true,
			}, nil
		}
	}

	reset := domain.NextDayReset(now)
	return s.denied(ctx, userID, domain.ReasonDailySessionLimit, domain.DimensionSessions, dayKey, limit, &reset), nil
}

func (s *policyService) evaluateAnswerQuestion(ctx context.Context, userID uuid.UUID, actx domain.ActionContext, eff domain.Plan) (*domain.Decision, error) {
	key := domain.SessionKey(actx.OpenSessionID)
	limit := int64(eff.SessionQuestionQuota)

	value, allowed, err := s.usage.IncrementIfUnderLimit(ctx, userID, domain.DimensionQuestions, key, limit)
	if err != nil {
		return nil, err
	}
	if allowed {
		return &domain.Decision{
			Allowed:           true,
			Reason:            domain.ReasonAllowed,
			CurrentUsage:      value,
			Limit:             limit,
			CountsTowardQuota: true,
		}, nil
	}
	return s.denied(ctx, userID, domain.ReasonSessionQuestionLimit, domain.DimensionQuestions, key, limit, nil), nil
}

func (s *policyService) evaluatePracticeDocument(ctx context.Context, userID uuid.UUID, eff domain.Plan, now time.Time) (*domain.Decision, error) {
	key := domain.MonthKey(now)
	limit := int64(eff.MonthlyDocumentQuota)
	reset := domain.NextMonthReset(now)

	// Plans that exclude document practice carry a zero quota: immediate
	// deny, no counter row is ever created.
	if limit < 1 {
		return s.denied(ctx, userID, domain.ReasonMonthlyDocumentLimit, domain.DimensionDocuments, key, limit, &reset), nil
	}

	value, allowed, err := s.usage.IncrementIfUnderLimit(ctx, userID, domain.DimensionDocuments, key, limit)
	if err != nil {
		return nil, err
	}
	if allowed {
		return &domain.Decision{
			Allowed:           true,
			Reason:            domain.ReasonAllowed,
			CurrentUsage:      value,
			Limit:             limit,
			CountsTowardQuota: true,
		}, nil
	}
	return s.denied(ctx, userID, domain.ReasonMonthlyDocumentLimit, domain.DimensionDocuments, key, limit, &reset), nil
}

// evaluateViewFullReport is a pure capability check; no counter is read
// or written.
func (s *policyService) evaluateViewFullReport(eff domain.Plan) *domain.Decision {
	if !eff.AllowsFullReport() {
		return &domain.Decision{Reason: domain.ReasonFullReportNotAllowed}
	}
	return &domain.Decision{Allowed: true, Reason: domain.ReasonAllowed}
}

// denied builds a deny decision with the current counter value attached.
func (s *policyService) denied(ctx context.Context, userID uuid.UUID, reason domain.ReasonCode, dim domain.Dimension, periodKey string, limit int64, resetAt *time.Time) *domain.Decision {
	return &domain.Decision{
		Reason:       reason,
		CurrentUsage: s.peek(ctx, userID, dim, periodKey),
		Limit:        limit,
		NextResetAt:  resetAt,
	}
}

// peek reads a counter best-effort; a failed read degrades to zero
// rather than failing a decision that is already made.
func (s *policyService) peek(ctx context.Context, userID uuid.UUID, dim domain.Dimension, periodKey string) int64 {
	value, err := s.usage.PeekUsage(ctx, userID, dim, periodKey)
	if err != nil {
		s.logger.Warn("usage peek failed", "error", err, "user_id", userID, "dimension", dim)
		return 0
	}
	return value
}

// finish attaches catalog copy on denials, writes the audit entry, and
// records decision metrics. Every evaluation path ends here.
func (s *policyService) finish(ctx context.Context, userID uuid.UUID, action domain.ActionKind, actx domain.ActionContext, now time.Time, applied []domain.AppliedExperiment, d *domain.Decision) *domain.Decision {
	if !d.Allowed {
		if msg, ok := domain.MessageFor(d.Reason); ok {
			d.Message = &msg
		}
	}

	s.audit.Record(ctx, domain.DecisionLogEntry{
		UserID:            userID,
		Action:            action,
		Allowed:           d.Allowed,
		Reason:            d.Reason,
		PlanCode:          d.PlanCode,
		CountsTowardQuota: d.CountsTowardQuota,
		CurrentUsage:      d.CurrentUsage,
		Limit:             d.Limit,
		Experiments:       applied,
		SessionID:         actx.OpenSessionID,
		IP:                actx.IP,
		RequestID:         actx.RequestID,
		CreatedAt:         now,
	})

	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	metrics.DecisionsTotal.WithLabelValues(string(action), outcome, string(d.Reason)).Inc()

	return d
}

func (s *policyService) unavailable(err error, op string) error {
	metrics.StoreUnavailable.Inc()
	return domain.Unavailable(err, op)
}
