// Package domain contains core business types and interfaces.
//
// This file defines A/B experiment types and the deterministic bucketing
// function used for consistent group assignment.
package domain

import (
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Group is an experiment bucket.
type Group string

const (
	GroupControl Group = "control"
	GroupVariant Group = "variant"
)

// AssignmentStrategy selects how users are bucketed into groups.
type AssignmentStrategy string

const (
	// StrategyHash buckets deterministically from (experiment, user), so a
	// retried first assignment is reproducible without a prior lookup.
	StrategyHash AssignmentStrategy = "hash"

	// StrategyRandom buckets randomly on first assignment; stickiness then
	// relies entirely on the persisted GroupAssignment row.
	StrategyRandom AssignmentStrategy = "random"
)

// Experiment is an operator-toggled A/B test definition. The engine only
// reads experiments; enable/disable flips are consumed on next read with
// bounded staleness.
type Experiment struct {
	Name           string
	Enabled        bool
	StartsAt       time.Time
	EndsAt         time.Time
	VariantPercent int // share of users bucketed into variant, 0-100
	Strategy       AssignmentStrategy

	// TargetPlans limits the experiment to users on the listed plans.
	// Empty means all plans.
	TargetPlans []string

	// Overrides holds per-group plan deltas keyed by group name.
	Overrides map[Group]PlanOverride
}

// RunningAt returns true if the experiment is enabled and inside its
// validity window at the given time.
func (e *Experiment) RunningAt(t time.Time) bool {
	if !e.Enabled {
		return false
	}
	if !e.StartsAt.IsZero() && t.Before(e.StartsAt) {
		return false
	}
	if !e.EndsAt.IsZero() && t.After(e.EndsAt) {
		return false
	}
	return true
}

// TargetsPlan returns true if the experiment applies to the given plan.
func (e *Experiment) TargetsPlan(planCode string) bool {
	if len(e.TargetPlans) == 0 {
		return true
	}
	for _, p := range e.TargetPlans {
		if p == planCode {
			return true
		}
	}
	return false
}

// OverrideFor returns the plan override configured for a group, if any.
func (e *Experiment) OverrideFor(g Group) (PlanOverride, bool) {
	o, ok := e.Overrides[g]
	return o, ok
}

// Bucket computes the deterministic bucket in [0, 100) for a user under an
// experiment. The hash input is "<experiment>:<user>" so the same user
// lands in different buckets across experiments.
func Bucket(experimentName string, userID uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(experimentName))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(userID.String()))
	return int(h.Sum32() % 100)
}

// GroupForBucket maps a bucket to a group given the variant share.
func GroupForBucket(bucket, variantPercent int) Group {
	if bucket < variantPercent {
		return GroupVariant
	}
	return GroupControl
}

// GroupAssignment binds a user to a group for one experiment. Once
// written it is immutable for the lifetime of the experiment so a user
// never flips groups mid-experiment.
type GroupAssignment struct {
	ExperimentName string
	UserID         uuid.UUID
	Group          Group
	AssignedAt     time.Time
}

// ExperimentConfig is the assignment plus overrides returned to callers
// that need experiment configuration outside the evaluate path.
type ExperimentConfig struct {
	ExperimentName string       `json:"experiment_name"`
	Group          Group        `json:"group"`
	Override       PlanOverride `json:"override"`
}

// ExperimentMetric is one per-day aggregated metric value for a user
// under an experiment group. Written by the aggregation job; never read
// back by the policy evaluator.
type ExperimentMetric struct {
	ExperimentName string
	UserID         uuid.UUID
	Group          Group
	Metric         string
	Day            string
	Value          float64
}
