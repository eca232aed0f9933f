// Package service contains the business logic layer.
//
// This file implements the escape valve: a one-time daily quota boost for
// sustained high-usage users on eligible plans. The sustained-usage
// threshold and the trailing window are business parameters subject to
// tuning, so they live in configuration rather than constants.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/metrics"
)

// EscapeValveFlag is the feature flag gating the mechanism globally.
const EscapeValveFlag = "escape_valve"

// EscapeValveConfig holds the tunable escape valve parameters.
type EscapeValveConfig struct {
	// ThresholdFactor is the fraction of the maximum possible window usage
	// (dailyQuota x WindowDays) a user must reach to qualify.
	ThresholdFactor float64

	// WindowDays is the trailing window length, current day inclusive.
	WindowDays int
}

// DefaultEscapeValveConfig returns the production defaults: 80% sustained
// usage over a trailing 7-day window.
func DefaultEscapeValveConfig() EscapeValveConfig {
	return EscapeValveConfig{
		ThresholdFactor: 0.8,
		WindowDays:      7,
	}
}

// Validate checks if the configuration is valid.
func (c EscapeValveConfig) Validate() error {
	if c.ThresholdFactor <= 0 || c.ThresholdFactor > 1 {
		return fmt.Errorf("threshold factor must be in (0, 1], got %v", c.ThresholdFactor)
	}
	if c.WindowDays < 1 {
		return fmt.Errorf("window days must be at least 1, got %d", c.WindowDays)
	}
	return nil
}

// EscapeValve evaluates a user for a one-time daily quota boost.
type EscapeValve interface {
	// TryGrant issues a grant for (user, now's day) if the user qualifies
	// under the effective plan. At most one grant exists per user per day;
	// a second eligible attempt the same day returns granted=false.
	TryGrant(ctx context.Context, userID uuid.UUID, plan domain.Plan, now time.Time) (domain.GrantResult, error)
}

// GrantStore is the persistence the valve needs: the existing-grant
// lookup, the trailing-window usage sum, and the insert-if-absent grant
// write that caps grants at one per (user, day).
type GrantStore interface {
	GrantForDay(ctx context.Context, userID uuid.UUID, day string) (*domain.EscapeValveGrant, error)
	SumUsageBetween(ctx context.Context, userID uuid.UUID, dimension domain.Dimension, fromKey, toKey string) (int64, error)
	InsertGrantIfAbsent(ctx context.Context, g domain.EscapeValveGrant) (bool, error)
}

type escapeValve struct {
	store  GrantStore
	flags  PlanCatalog
	config EscapeValveConfig
	logger *slog.Logger
}

// NewEscapeValve creates an EscapeValve. The flag gating the mechanism is
// read through the catalog's TTL cache.
func NewEscapeValve(store GrantStore, flags PlanCatalog, config EscapeValveConfig, logger *slog.Logger) (EscapeValve, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid escape valve config: %w", err)
	}
	return &escapeValve{
		store:  store,
		flags:  flags,
		config: config,
		logger: logger.With(slog.String("component", "escape_valve")),
	}, nil
}

// TryGrant evaluates eligibility in order: plan allows conditional extra
// sessions, the feature flag is on, no grant was issued today, and the
// trailing-window usage meets the sustained-usage threshold. The grant
// write is insert-if-absent so concurrent attempts converge on one grant.
func (v *escapeValve) TryGrant(ctx context.Context, userID uuid.UUID, plan domain.Plan, now time.Time) (domain.GrantResult, error) {
	if plan.ConditionalExtraSessions <= 0 {
		return domain.GrantResult{}, nil
	}

	enabled, err := v.flags.FlagEnabled(ctx, EscapeValveFlag)
	if err != nil {
		return domain.GrantResult{}, err
	}
	if !enabled {
		return domain.GrantResult{}, nil
	}

	day := domain.DayKey(now)

	existing, err := v.store.GrantForDay(ctx, userID, day)
	if err != nil {
		return domain.GrantResult{}, err
	}
	if existing != nil {
		return domain.GrantResult{SevenDayUsage: existing.SevenDayUsage}, nil
	}

	days := domain.DayKeysBack(now, v.config.WindowDays)
	sum, err := v.store.SumUsageBetween(ctx, userID, domain.DimensionSessions, days[0], days[len(days)-1])
	if err != nil {
		return domain.GrantResult{}, err
	}

	threshold := float64(plan.DailySessionQuota) * float64(v.config.WindowDays) * v.config.ThresholdFactor
	if float64(sum) < threshold {
		return domain.GrantResult{SevenDayUsage: sum}, nil
	}

	inserted, err := v.store.InsertGrantIfAbsent(ctx, domain.EscapeValveGrant{
		UserID:        userID,
		Day:           day,
		ExtraSessions: plan.ConditionalExtraSessions,
		SevenDayUsage: sum,
		Criterion:     fmt.Sprintf("sustained_usage_%.0f%%", v.config.ThresholdFactor*100),
	})
	if err != nil {
		return domain.GrantResult{}, err
	}
	if !inserted {
		// Lost the race to a concurrent attempt; that attempt consumes
		// the grant.
		return domain.GrantResult{SevenDayUsage: sum}, nil
	}

	v.logger.Info("escape valve grant issued",
		"user_id", userID,
		"plan", plan.Code,
		"extra_sessions", plan.ConditionalExtraSessions,
		"window_usage", sum,
	)
	metrics.EscapeValveGrants.Inc()

	return domain.GrantResult{
		Granted:       true,
		ExtraSessions: plan.ConditionalExtraSessions,
		SevenDayUsage: sum,
	}, nil
}
