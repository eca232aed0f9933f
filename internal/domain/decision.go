// Package domain contains core business types and interfaces.
//
// This file defines the action kinds the engine evaluates, the closed set
// of denial reason codes, and the Decision returned to callers.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies a user action subject to enforcement.
type ActionKind string

const (
	ActionStartSession     ActionKind = "start_session"
	ActionAnswerQuestion   ActionKind = "answer_question"
	ActionPracticeDocument ActionKind = "practice_document"
	ActionViewFullReport   ActionKind = "view_full_report"
)

// Valid returns true if the action kind is one the engine knows.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionStartSession, ActionAnswerQuestion, ActionPracticeDocument, ActionViewFullReport:
		return true
	}
	return false
}

// ReasonCode is the closed set of decision outcomes. Every denial reason
// has a Message Catalog entry (see MessageFor). ReasonAllowed is used for
// audit entries on the allow path.
type ReasonCode string

const (
	ReasonAllowed                   ReasonCode = "allowed"
	ReasonNoActiveSubscription      ReasonCode = "no_active_subscription"
	ReasonSubscriptionExpired       ReasonCode = "subscription_expired"
	ReasonDailySessionLimit         ReasonCode = "daily_session_limit"
	ReasonContinuousStudyNotAllowed ReasonCode = "continuous_study_not_allowed"
	ReasonSessionQuestionLimit      ReasonCode = "session_question_limit"
	ReasonMonthlyDocumentLimit      ReasonCode = "monthly_document_limit"
	ReasonFullReportNotAllowed      ReasonCode = "full_report_not_allowed"
)

// ActionContext carries action-specific flags supplied by the caller.
type ActionContext struct {
	// ContinuousStudy marks an unmetered session mode; only meaningful
	// for ActionStartSession.
	ContinuousStudy bool `json:"continuous_study,omitempty"`

	// OpenSessionID is the session a question answer belongs to; required
	// for ActionAnswerQuestion.
	OpenSessionID uuid.UUID `json:"open_session_id,omitempty"`

	// Request metadata recorded in the decision log.
	IP        string `json:"ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// AppliedExperiment records an experiment whose overrides contributed to
// the effective plan for a decision.
type AppliedExperiment struct {
	Name  string `json:"name"`
	Group Group  `json:"group"`
}

// Decision is the structured result of a policy evaluation.
type Decision struct {
	Allowed      bool                `json:"allowed"`
	Reason       ReasonCode          `json:"reason"`
	CurrentUsage int64               `json:"current_usage"`
	Limit        int64               `json:"limit"`
	PlanCode     string              `json:"plan_code,omitempty"`
	Experiments  []AppliedExperiment `json:"experiments,omitempty"`

	// Set on denials only.
	Message     *Message   `json:"message,omitempty"`
	NextResetAt *time.Time `json:"next_reset_at,omitempty"`

	// CountsTowardQuota is false for decisions that did not consume
	// quota (continuous study, capability checks, denials).
	CountsTowardQuota bool `json:"counts_toward_quota"`
}

// DecisionLogEntry is the append-only audit record written for every
// evaluation, allowed or denied. Immutable once written.
type DecisionLogEntry struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Action            ActionKind
	Allowed           bool
	Reason            ReasonCode
	PlanCode          string
	CountsTowardQuota bool
	CurrentUsage      int64
	Limit             int64
	Experiments       []AppliedExperiment
	SessionID         uuid.UUID
	IP                string
	RequestID         string
	CreatedAt         time.Time
}
