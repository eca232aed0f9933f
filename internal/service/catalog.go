// Package service contains the business logic layer.
//
// This file implements the plan catalog and feature flag reader. Plans
// and flags are read-mostly; both are cached per process with a short TTL
// so operator toggles are consumed on next read with bounded staleness.
// Every read returns a snapshot value, never shared mutable state.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/repository"
)

// DefaultCatalogTTL bounds the staleness of cached plans and flags.
const DefaultCatalogTTL = 5 * time.Second

// PlanCatalog resolves plans, subscriptions, and feature flags.
type PlanCatalog interface {
	// SubscriptionFor returns the user's most recent subscription and its
	// plan. Both are nil if the user has never subscribed.
	SubscriptionFor(ctx context.Context, userID uuid.UUID) (*domain.Subscription, *domain.Plan, error)

	// Plan returns a plan by code, or nil if unknown.
	Plan(ctx context.Context, code string) (*domain.Plan, error)

	// FlagEnabled returns the state of a named feature flag.
	FlagEnabled(ctx context.Context, name string) (bool, error)
}

type planCacheEntry struct {
	plan      *domain.Plan
	fetchedAt time.Time
}

type flagCacheEntry struct {
	enabled   bool
	fetchedAt time.Time
}

type planCatalog struct {
	queries *repository.Queries
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	plans map[string]planCacheEntry
	flags map[string]flagCacheEntry
}

// NewPlanCatalog creates a PlanCatalog backed by the repository with a
// per-process TTL cache. A non-positive ttl falls back to the default.
func NewPlanCatalog(queries *repository.Queries, ttl time.Duration, logger *slog.Logger) PlanCatalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &planCatalog{
		queries: queries,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
		plans:   make(map[string]planCacheEntry),
		flags:   make(map[string]flagCacheEntry),
	}
}

// SubscriptionFor is not cached: subscription state changes (payments,
// cancellations) should be visible on the next request.
func (c *planCatalog) SubscriptionFor(ctx context.Context, userID uuid.UUID) (*domain.Subscription, *domain.Plan, error) {
	sub, err := c.queries.GetLatestSubscription(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, nil
	}

	plan, err := c.Plan(ctx, sub.PlanCode)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		c.logger.Warn("subscription references unknown plan",
			"user_id", userID, "plan_code", sub.PlanCode)
		return sub, nil, nil
	}
	return sub, plan, nil
}

func (c *planCatalog) Plan(ctx context.Context, code string) (*domain.Plan, error) {
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.plans[code]; ok && now.Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.plan, nil
	}
	c.mu.Unlock()

	plan, err := c.queries.GetPlan(ctx, code)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.plans[code] = planCacheEntry{plan: plan, fetchedAt: now}
	c.mu.Unlock()
	return plan, nil
}

func (c *planCatalog) FlagEnabled(ctx context.Context, name string) (bool, error) {
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.flags[name]; ok && now.Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.enabled, nil
	}
	c.mu.Unlock()

	enabled, err := c.queries.GetFeatureFlag(ctx, name)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.flags[name] = flagCacheEntry{enabled: enabled, fetchedAt: now}
	c.mu.Unlock()
	return enabled, nil
}
