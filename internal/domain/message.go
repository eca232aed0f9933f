// Package domain contains core business types and interfaces.
//
// This file is the Message Catalog: user-facing copy for every denial
// reason. The mapping is an exhaustive switch over the closed ReasonCode
// set so a new denial reason cannot ship without catalog copy.
package domain

// Message is the user-facing explanation attached to a denial.
type Message struct {
	Title           string `json:"title"`
	Body            string `json:"body"`
	UpgradeHint     string `json:"upgrade_hint,omitempty"`
	RecommendedPlan string `json:"recommended_plan,omitempty"`
}

// MessageFor returns the catalog entry for a denial reason. ReasonAllowed
// and unknown codes return ok=false; callers only attach messages on the
// deny path.
func MessageFor(reason ReasonCode) (Message, bool) {
	switch reason {
	case ReasonAllowed:
		return Message{}, false

	case ReasonNoActiveSubscription:
		return Message{
			Title:           "No active plan",
			Body:            "You need an active study plan to use this feature.",
			UpgradeHint:     "Pick a plan to start studying today.",
			RecommendedPlan: "MENSAL",
		}, true

	case ReasonSubscriptionExpired:
		return Message{
			Title:           "Your plan has ended",
			Body:            "Your study plan has expired. Renew to pick up where you left off.",
			UpgradeHint:     "Renew your plan to keep your progress going.",
			RecommendedPlan: "SEMESTRAL",
		}, true

	case ReasonDailySessionLimit:
		return Message{
			Title:           "You've finished today's sessions",
			Body:            "Great work - you've used all of today's study sessions. Rest up and come back tomorrow.",
			UpgradeHint:     "Want more sessions per day? A bigger plan raises your daily limit.",
			RecommendedPlan: "SEMESTRAL",
		}, true

	case ReasonContinuousStudyNotAllowed:
		return Message{
			Title:           "Continuous study is not in your plan",
			Body:            "Open-ended study sessions are available on our larger plans.",
			UpgradeHint:     "Upgrade to study without session limits.",
			RecommendedPlan: "ANUAL",
		}, true

	case ReasonSessionQuestionLimit:
		return Message{
			Title:           "Session complete",
			Body:            "You've answered every question in this session. Start a new session to keep practicing.",
			UpgradeHint:     "Larger plans include more questions per session.",
			RecommendedPlan: "SEMESTRAL",
		}, true

	case ReasonMonthlyDocumentLimit:
		return Message{
			Title:           "Document practice limit reached",
			Body:            "You've used this month's document practices. They reset at the start of next month.",
			UpgradeHint:     "Upgrade for more document practice every month.",
			RecommendedPlan: "ANUAL",
		}, true

	case ReasonFullReportNotAllowed:
		return Message{
			Title:           "Full reports are not in your plan",
			Body:            "Your plan includes the basic progress report. Full performance reports come with our larger plans.",
			UpgradeHint:     "Upgrade to see your complete performance breakdown.",
			RecommendedPlan: "SEMESTRAL",
		}, true
	}

	return Message{}, false
}
