package repository

import (
	"context"
	"fmt"

	"github.com/opositia/enforce/internal/domain"
)

const upsertExperimentMetric = `
INSERT INTO experiment_metrics (experiment_name, user_id, group_name, metric, day, value, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (experiment_name, user_id, metric, day) DO UPDATE
SET value = EXCLUDED.value, group_name = EXCLUDED.group_name, updated_at = now()
`

// UpsertExperimentMetric writes one per-day metric value, replacing any
// previous value for the same key. The aggregation job re-runs the same
// day idempotently.
func (q *Queries) UpsertExperimentMetric(ctx context.Context, m domain.ExperimentMetric) error {
	_, err := q.db.ExecContext(ctx, upsertExperimentMetric,
		m.ExperimentName, m.UserID, m.Group, m.Metric, m.Day, m.Value)
	if err != nil {
		return fmt.Errorf("upsert experiment metric: %w", err)
	}
	return nil
}
