package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func tierPtr(v ReportTier) *ReportTier { return &v }

func TestEffectivePlan_NoOverrides(t *testing.T) {
	base := Plan{
		Code:                 "FREE",
		DailySessionQuota:    1,
		SessionQuestionQuota: 10,
		ReportTier:           ReportTierNone,
	}

	eff := EffectivePlan(base)

	assert.Equal(t, base, eff)
}

func TestEffectivePlan_SingleOverride(t *testing.T) {
	base := Plan{
		Code:                  "MENSAL",
		DailySessionQuota:     3,
		SessionQuestionQuota:  20,
		MonthlyDocumentQuota:  2,
		MaxSessionDuration:    30 * time.Minute,
		AllowsContinuousStudy: false,
		ReportTier:            ReportTierBasic,
	}

	eff := EffectivePlan(base, PlanOverride{
		DailySessionQuota:     intPtr(5),
		AllowsContinuousStudy: boolPtr(true),
	})

	assert.Equal(t, 5, eff.DailySessionQuota)
	assert.True(t, eff.AllowsContinuousStudy)

	// Untouched fields keep base values
	assert.Equal(t, 20, eff.SessionQuestionQuota)
	assert.Equal(t, 2, eff.MonthlyDocumentQuota)
	assert.Equal(t, 30*time.Minute, eff.MaxSessionDuration)
	assert.Equal(t, ReportTierBasic, eff.ReportTier)
	assert.Equal(t, "MENSAL", eff.Code)
}

func TestEffectivePlan_FirstOverrideWinsPerField(t *testing.T) {
	base := Plan{Code: "FREE", DailySessionQuota: 1, SessionQuestionQuota: 10}

	high := PlanOverride{DailySessionQuota: intPtr(4)}
	low := PlanOverride{
		DailySessionQuota:    intPtr(2),
		SessionQuestionQuota: intPtr(25),
	}

	eff := EffectivePlan(base, high, low)

	// high set the daily quota first, so low's value is ignored
	assert.Equal(t, 4, eff.DailySessionQuota)
	// high never set the question quota, so low's value applies
	assert.Equal(t, 25, eff.SessionQuestionQuota)
}

func TestEffectivePlan_MaxSessionMinutes(t *testing.T) {
	base := Plan{Code: "MENSAL", MaxSessionDuration: 30 * time.Minute}

	eff := EffectivePlan(base, PlanOverride{MaxSessionMinutes: intPtr(45)})

	assert.Equal(t, 45*time.Minute, eff.MaxSessionDuration)
}

func TestEffectivePlan_ReportTierOverride(t *testing.T) {
	base := Plan{Code: "FREE", ReportTier: ReportTierNone}

	eff := EffectivePlan(base, PlanOverride{ReportTier: tierPtr(ReportTierFull)})

	assert.Equal(t, ReportTierFull, eff.ReportTier)
	assert.True(t, eff.AllowsFullReport())
}

func TestEffectivePlan_DoesNotMutateInputs(t *testing.T) {
	base := Plan{Code: "FREE", DailySessionQuota: 1}
	override := PlanOverride{DailySessionQuota: intPtr(9)}

	_ = EffectivePlan(base, override)

	assert.Equal(t, 1, base.DailySessionQuota)
	assert.Equal(t, 9, *override.DailySessionQuota)
}

func TestPlanOverride_IsZero(t *testing.T) {
	assert.True(t, PlanOverride{}.IsZero())
	assert.False(t, PlanOverride{DailySessionQuota: intPtr(0)}.IsZero())
	assert.False(t, PlanOverride{MessageVariant: "b"}.IsZero())
	assert.False(t, PlanOverride{AllowsContinuousStudy: boolPtr(false)}.IsZero())
}

func TestSubscription_ActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status SubscriptionStatus
		endsAt time.Time
		at     time.Time
		want   bool
	}{
		{"active inside window", SubscriptionStatusActive, end, start.AddDate(0, 3, 0), true},
		{"active before start", SubscriptionStatusActive, end, start.AddDate(0, 0, -1), false},
		{"active after end", SubscriptionStatusActive, end, end.AddDate(0, 0, 1), false},
		{"active with no end date", SubscriptionStatusActive, time.Time{}, start.AddDate(5, 0, 0), true},
		{"expired status inside window", SubscriptionStatusExpired, end, start.AddDate(0, 3, 0), false},
		{"none status", SubscriptionStatusNone, end, start.AddDate(0, 3, 0), false},
		{"active at exact start", SubscriptionStatusActive, end, start, true},
		{"active at exact end", SubscriptionStatusActive, end, end, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Subscription{
				PlanCode: "MENSAL",
				Status:   tt.status,
				StartsAt: start,
				EndsAt:   tt.endsAt,
			}
			assert.Equal(t, tt.want, s.ActiveAt(tt.at))
		})
	}
}
