// Package domain contains core business types and interfaces.
//
// This file defines the Plan and Subscription types plus the effective-plan
// merge used to overlay experiment overrides on a base plan.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReportTier represents the performance-report access level of a plan.
type ReportTier string

const (
	ReportTierNone  ReportTier = "none"
	ReportTierBasic ReportTier = "basic"
	ReportTierFull  ReportTier = "full"
)

// Plan is an immutable-per-version subscription tier definition.
// Plans are created and edited by administrative tooling; the engine
// only reads them.
type Plan struct {
	Code                     string
	DailySessionQuota        int
	SessionQuestionQuota     int
	MonthlyDocumentQuota     int
	MaxSessionDuration       time.Duration
	AllowsContinuousStudy    bool
	AllowsExtendedSession    bool
	ConditionalExtraSessions int
	ReportTier               ReportTier
}

// AllowsFullReport returns true if the plan grants access to full reports.
func (p Plan) AllowsFullReport() bool {
	return p.ReportTier == ReportTierFull
}

// PlanOverride is a sparse delta applied on top of a base plan.
// Nil fields leave the base value untouched. Overrides come from
// experiment group configuration and are merged in priority order.
type PlanOverride struct {
	DailySessionQuota        *int        `json:"daily_session_quota,omitempty"`
	SessionQuestionQuota     *int        `json:"session_question_quota,omitempty"`
	MonthlyDocumentQuota     *int        `json:"monthly_document_quota,omitempty"`
	MaxSessionMinutes        *int        `json:"max_session_minutes,omitempty"`
	AllowsContinuousStudy    *bool       `json:"allows_continuous_study,omitempty"`
	AllowsExtendedSession    *bool       `json:"allows_extended_session,omitempty"`
	ConditionalExtraSessions *int        `json:"conditional_extra_sessions,omitempty"`
	ReportTier               *ReportTier `json:"report_tier,omitempty"`
	MessageVariant           string      `json:"message_variant,omitempty"`
}

// IsZero returns true if the override changes nothing.
func (o PlanOverride) IsZero() bool {
	return o.DailySessionQuota == nil &&
		o.SessionQuestionQuota == nil &&
		o.MonthlyDocumentQuota == nil &&
		o.MaxSessionMinutes == nil &&
		o.AllowsContinuousStudy == nil &&
		o.AllowsExtendedSession == nil &&
		o.ConditionalExtraSessions == nil &&
		o.ReportTier == nil &&
		o.MessageVariant == ""
}

// EffectivePlan overlays overrides on a base plan and returns the merged
// view. Overrides are applied in the order given (highest priority first);
// the first override that sets a field wins. The merge is pure: neither
// the base plan nor the overrides are mutated, and nothing is persisted.
func EffectivePlan(base Plan, overrides ...PlanOverride) Plan {
	eff := base

	var (
		daily, perSession, monthly, maxMin, extra bool
		continuous, extended, tier                bool
	)

	for _, o := range overrides {
		if o.DailySessionQuota != nil && !daily {
			eff.DailySessionQuota = *o.DailySessionQuota
			daily = true
		}
		if o.SessionQuestionQuota != nil && !perSession {
			eff.SessionQuestionQuota = *o.SessionQuestionQuota
			perSession = true
		}
		if o.MonthlyDocumentQuota != nil && !monthly {
			eff.MonthlyDocumentQuota = *o.MonthlyDocumentQuota
			monthly = true
		}
		if o.MaxSessionMinutes != nil && !maxMin {
			eff.MaxSessionDuration = time.Duration(*o.MaxSessionMinutes) * time.Minute
			maxMin = true
		}
		if o.AllowsContinuousStudy != nil && !continuous {
			eff.AllowsContinuousStudy = *o.AllowsContinuousStudy
			continuous = true
		}
		if o.AllowsExtendedSession != nil && !extended {
			eff.AllowsExtendedSession = *o.AllowsExtendedSession
			extended = true
		}
		if o.ConditionalExtraSessions != nil && !extra {
			eff.ConditionalExtraSessions = *o.ConditionalExtraSessions
			extra = true
		}
		if o.ReportTier != nil && !tier {
			eff.ReportTier = *o.ReportTier
			tier = true
		}
	}

	return eff
}

// SubscriptionStatus represents the possible states of a subscription
// as exposed to this engine.
type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
	SubscriptionStatusNone    SubscriptionStatus = "none"
)

// Subscription binds a user to a plan with a validity window.
// Owned by billing; read-only to this engine.
type Subscription struct {
	UserID   uuid.UUID
	PlanCode string
	Status   SubscriptionStatus
	StartsAt time.Time
	EndsAt   time.Time
}

// ActiveAt returns true if the subscription is usable at the given time.
// A subscription marked active but outside its validity window is not.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	if t.Before(s.StartsAt) {
		return false
	}
	if !s.EndsAt.IsZero() && t.After(s.EndsAt) {
		return false
	}
	return true
}
