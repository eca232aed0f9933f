package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
)

const experimentColumns = `
name, enabled, starts_at, ends_at, variant_percent, strategy, target_plans, group_overrides
`

// experimentRow handles the nullable and JSON columns of an experiment.
type experimentRow struct {
	name           string
	enabled        bool
	startsAt       sql.NullTime
	endsAt         sql.NullTime
	variantPercent int
	strategy       string
	targetPlans    []byte
	groupOverrides []byte
}

func (r *experimentRow) toDomain() (*domain.Experiment, error) {
	e := &domain.Experiment{
		Name:           r.name,
		Enabled:        r.enabled,
		VariantPercent: r.variantPercent,
		Strategy:       domain.AssignmentStrategy(r.strategy),
	}
	if r.startsAt.Valid {
		e.StartsAt = r.startsAt.Time
	}
	if r.endsAt.Valid {
		e.EndsAt = r.endsAt.Time
	}
	if len(r.targetPlans) > 0 {
		if err := json.Unmarshal(r.targetPlans, &e.TargetPlans); err != nil {
			return nil, fmt.Errorf("decode experiment target plans: %w", err)
		}
	}
	if len(r.groupOverrides) > 0 {
		if err := json.Unmarshal(r.groupOverrides, &e.Overrides); err != nil {
			return nil, fmt.Errorf("decode experiment group overrides: %w", err)
		}
	}
	return e, nil
}

const getExperiment = `
SELECT ` + experimentColumns + ` FROM experiments WHERE name = $1
`

// GetExperiment returns an experiment by name, or nil if it does not exist.
func (q *Queries) GetExperiment(ctx context.Context, name string) (*domain.Experiment, error) {
	var r experimentRow
	err := q.db.QueryRowContext(ctx, getExperiment, name).Scan(
		&r.name, &r.enabled, &r.startsAt, &r.endsAt,
		&r.variantPercent, &r.strategy, &r.targetPlans, &r.groupOverrides)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return r.toDomain()
}

const listEnabledExperiments = `
SELECT ` + experimentColumns + ` FROM experiments WHERE enabled ORDER BY name
`

// ListEnabledExperiments returns all experiments whose enabled flag is
// set. Validity windows are evaluated by the caller at decision time.
func (q *Queries) ListEnabledExperiments(ctx context.Context) ([]*domain.Experiment, error) {
	rows, err := q.db.QueryContext(ctx, listEnabledExperiments)
	if err != nil {
		return nil, fmt.Errorf("list enabled experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*domain.Experiment
	for rows.Next() {
		var r experimentRow
		if err := rows.Scan(
			&r.name, &r.enabled, &r.startsAt, &r.endsAt,
			&r.variantPercent, &r.strategy, &r.targetPlans, &r.groupOverrides); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	return experiments, rows.Err()
}

const setExperimentEnabled = `
UPDATE experiments SET enabled = $2, updated_at = now() WHERE name = $1
`

// SetExperimentEnabled flips the operator toggle for an experiment.
// Returns found=false if the experiment does not exist.
func (q *Queries) SetExperimentEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	res, err := q.db.ExecContext(ctx, setExperimentEnabled, name, enabled)
	if err != nil {
		return false, fmt.Errorf("set experiment enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set experiment enabled: %w", err)
	}
	return n == 1, nil
}

const getAssignment = `
SELECT experiment_name, user_id, group_name, assigned_at
FROM group_assignments
WHERE experiment_name = $1 AND user_id = $2
`

// GetAssignment returns the persisted group assignment for (experiment,
// user), or nil if the user has never been assigned.
func (q *Queries) GetAssignment(ctx context.Context, experimentName string, userID uuid.UUID) (*domain.GroupAssignment, error) {
	var a domain.GroupAssignment
	err := q.db.QueryRowContext(ctx, getAssignment, experimentName, userID).
		Scan(&a.ExperimentName, &a.UserID, &a.Group, &a.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group assignment: %w", err)
	}
	return &a, nil
}

const insertAssignmentIfAbsent = `
INSERT INTO group_assignments (experiment_name, user_id, group_name, assigned_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (experiment_name, user_id) DO NOTHING
`

// InsertAssignmentIfAbsent persists a first-time group assignment. When
// two concurrent first evaluations race, exactly one insert wins and both
// callers converge on the winner via the follow-up read.
func (q *Queries) InsertAssignmentIfAbsent(
	ctx context.Context,
	experimentName string,
	userID uuid.UUID,
	group domain.Group,
) (*domain.GroupAssignment, error) {
	if _, err := q.db.ExecContext(ctx, insertAssignmentIfAbsent, experimentName, userID, group); err != nil {
		return nil, fmt.Errorf("insert group assignment: %w", err)
	}
	a, err := q.GetAssignment(ctx, experimentName, userID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("group assignment missing after insert for %s/%s", experimentName, userID)
	}
	return a, nil
}
