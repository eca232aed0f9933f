// Package service contains the business logic layer.
//
// This file implements the metrics recorder: the coarse aggregation path
// that folds a day of decision log entries into per-user, per-day
// experiment metrics. It runs from the background worker, never from the
// evaluate path, and the policy evaluator never reads it back.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/repository"
)

// MetricsRecorder aggregates decision history into experiment metrics.
type MetricsRecorder interface {
	// AggregateDay recomputes all experiment metrics for the calendar day
	// containing t. The upserts are idempotent, so re-running a day is
	// safe.
	AggregateDay(ctx context.Context, t time.Time) error
}

type metricsRecorder struct {
	queries *repository.Queries
	loc     *time.Location
	logger  *slog.Logger
}

// NewMetricsRecorder creates the aggregation service. Day boundaries are
// computed in loc, the same timezone the evaluator uses.
func NewMetricsRecorder(queries *repository.Queries, loc *time.Location, logger *slog.Logger) MetricsRecorder {
	if loc == nil {
		loc = time.UTC
	}
	return &metricsRecorder{
		queries: queries,
		loc:     loc,
		logger:  logger.With(slog.String("component", "metrics_recorder")),
	}
}

func (r *metricsRecorder) AggregateDay(ctx context.Context, t time.Time) error {
	t = t.In(r.loc)
	y, m, d := t.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	to := from.AddDate(0, 0, 1)
	day := domain.DayKey(from)

	counts, err := r.queries.CountDecisionsByExperiment(ctx, from, to)
	if err != nil {
		return fmt.Errorf("aggregate decisions for %s: %w", day, err)
	}

	for _, c := range counts {
		outcome := "denied"
		if c.Allowed {
			outcome = "allowed"
		}
		metric := fmt.Sprintf("%s_%s", c.Action, outcome)

		err := r.queries.UpsertExperimentMetric(ctx, domain.ExperimentMetric{
			ExperimentName: c.ExperimentName,
			UserID:         c.UserID,
			Group:          c.Group,
			Metric:         metric,
			Day:            day,
			Value:          float64(c.Count),
		})
		if err != nil {
			return fmt.Errorf("write metric %s for %s: %w", metric, day, err)
		}
	}

	r.logger.Info("experiment metrics aggregated", "day", day, "rows", len(counts))
	return nil
}
