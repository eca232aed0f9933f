// Package service contains the business logic layer.
//
// This file implements experiment group assignment and the effective-plan
// override resolution used by the policy evaluator. Assignments are
// sticky: once persisted, a user never flips groups mid-experiment.
package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/metrics"
)

// Experiments assigns users to experiment groups and resolves the
// configuration overrides their groups carry.
type Experiments interface {
	// GetGroup returns the user's group for an experiment, or ok=false if
	// the experiment is unknown, disabled, or outside its window. It never
	// writes an assignment for a non-running experiment.
	GetGroup(ctx context.Context, experimentName string, userID uuid.UUID) (domain.Group, bool, error)

	// GetConfig returns the user's group plus the group's overrides, or
	// nil under the same conditions GetGroup returns ok=false.
	GetConfig(ctx context.Context, experimentName string, userID uuid.UUID) (*domain.ExperimentConfig, error)

	// OverridesFor resolves the overrides of every running experiment
	// targeting the given plan, in configured priority order. The
	// returned slices are parallel only in origin: applied lists every
	// experiment the user is enrolled in, overrides only the non-empty
	// deltas in merge order.
	OverridesFor(ctx context.Context, userID uuid.UUID, planCode string, now time.Time) ([]domain.AppliedExperiment, []domain.PlanOverride, error)
}

// ExperimentStore is the persistence behind assignment: experiment
// definitions plus the insert-if-absent assignment write that keeps
// groups sticky under concurrent first contact.
type ExperimentStore interface {
	GetExperiment(ctx context.Context, name string) (*domain.Experiment, error)
	ListEnabledExperiments(ctx context.Context) ([]*domain.Experiment, error)
	GetAssignment(ctx context.Context, experimentName string, userID uuid.UUID) (*domain.GroupAssignment, error)
	InsertAssignmentIfAbsent(ctx context.Context, experimentName string, userID uuid.UUID, group domain.Group) (*domain.GroupAssignment, error)
}

type experimentService struct {
	store  ExperimentStore
	logger *slog.Logger

	// priority orders override merging; experiments not listed keep their
	// stable name order after the listed ones.
	priority []string

	cacheTTL time.Duration
	now      func() time.Time
	randIntN func(int) int

	mu        sync.Mutex
	cached    []*domain.Experiment
	fetchedAt time.Time
}

// NewExperiments creates the experiment assignment service. The enabled
// experiment list is cached per process for cacheTTL; operator toggles
// are consumed on next refresh.
func NewExperiments(store ExperimentStore, priority []string, cacheTTL time.Duration, logger *slog.Logger) Experiments {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCatalogTTL
	}
	return &experimentService{
		store:    store,
		logger:   logger.With(slog.String("component", "experiments")),
		priority: priority,
		cacheTTL: cacheTTL,
		now:      time.Now,
		randIntN: rand.IntN,
	}
}

func (s *experimentService) GetGroup(ctx context.Context, experimentName string, userID uuid.UUID) (domain.Group, bool, error) {
	cfg, err := s.GetConfig(ctx, experimentName, userID)
	if err != nil || cfg == nil {
		return "", false, err
	}
	return cfg.Group, true, nil
}

func (s *experimentService) GetConfig(ctx context.Context, experimentName string, userID uuid.UUID) (*domain.ExperimentConfig, error) {
	exp, err := s.store.GetExperiment(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	if exp == nil || !exp.RunningAt(s.now()) {
		return nil, nil
	}

	group, err := s.assign(ctx, exp, userID)
	if err != nil {
		return nil, err
	}

	override, _ := exp.OverrideFor(group)
	return &domain.ExperimentConfig{
		ExperimentName: exp.Name,
		Group:          group,
		Override:       override,
	}, nil
}

func (s *experimentService) OverridesFor(ctx context.Context, userID uuid.UUID, planCode string, now time.Time) ([]domain.AppliedExperiment, []domain.PlanOverride, error) {
	enabled, err := s.enabledExperiments(ctx)
	if err != nil {
		return nil, nil, err
	}

	var applied []domain.AppliedExperiment
	var overrides []domain.PlanOverride

	for _, exp := range orderByPriority(enabled, s.priority) {
		if !exp.RunningAt(now) || !exp.TargetsPlan(planCode) {
			continue
		}

		group, err := s.assign(ctx, exp, userID)
		if err != nil {
			return nil, nil, err
		}
		applied = append(applied, domain.AppliedExperiment{Name: exp.Name, Group: group})

		if o, ok := exp.OverrideFor(group); ok && !o.IsZero() {
			overrides = append(overrides, o)
		}
	}

	return applied, overrides, nil
}

// assign returns the sticky group for (experiment, user), bucketing and
// persisting on first contact. The insert is insert-if-absent, so two
// concurrent first assignments converge on one winner.
func (s *experimentService) assign(ctx context.Context, exp *domain.Experiment, userID uuid.UUID) (domain.Group, error) {
	existing, err := s.store.GetAssignment(ctx, exp.Name, userID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Group, nil
	}

	var bucket int
	switch exp.Strategy {
	case domain.StrategyRandom:
		bucket = s.randIntN(100)
	default:
		bucket = domain.Bucket(exp.Name, userID)
	}
	group := domain.GroupForBucket(bucket, exp.VariantPercent)

	assignment, err := s.store.InsertAssignmentIfAbsent(ctx, exp.Name, userID, group)
	if err != nil {
		return "", err
	}
	metrics.ExperimentAssignments.WithLabelValues(exp.Name, string(assignment.Group)).Inc()

	return assignment.Group, nil
}

func (s *experimentService) enabledExperiments(ctx context.Context) ([]*domain.Experiment, error) {
	now := s.now()

	s.mu.Lock()
	if s.cached != nil && now.Sub(s.fetchedAt) < s.cacheTTL {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	experiments, err := s.store.ListEnabledExperiments(ctx)
	if err != nil {
		return nil, err
	}
	if experiments == nil {
		experiments = []*domain.Experiment{}
	}

	s.mu.Lock()
	s.cached = experiments
	s.fetchedAt = now
	s.mu.Unlock()
	return experiments, nil
}

// orderByPriority returns experiments sorted by the configured priority
// list; unlisted experiments follow in their incoming (name) order. The
// result is a new slice; the input is not reordered.
func orderByPriority(experiments []*domain.Experiment, priority []string) []*domain.Experiment {
	if len(priority) == 0 {
		return experiments
	}

	ordered := make([]*domain.Experiment, 0, len(experiments))
	seen := make(map[string]bool, len(experiments))

	for _, name := range priority {
		for _, exp := range experiments {
			if exp.Name == name && !seen[name] {
				ordered = append(ordered, exp)
				seen[name] = true
			}
		}
	}
	for _, exp := range experiments {
		if !seen[exp.Name] {
			ordered = append(ordered, exp)
		}
	}
	return ordered
}
