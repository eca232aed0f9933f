package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
)

const insertDecision = `
INSERT INTO decision_log (
	id, user_id, action, allowed, reason, plan_code, counts_toward_quota,
	current_usage, limit_value, experiments, session_id, ip, request_id, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

// InsertDecision appends one decision log entry. Entries are immutable
// once written; there is no update or delete path in this engine.
func (q *Queries) InsertDecision(ctx context.Context, e domain.DecisionLogEntry) error {
	var experiments []byte
	if len(e.Experiments) > 0 {
		var err error
		experiments, err = json.Marshal(e.Experiments)
		if err != nil {
			return fmt.Errorf("encode decision experiments: %w", err)
		}
	}

	var sessionID interface{}
	if e.SessionID != uuid.Nil {
		sessionID = e.SessionID
	}

	_, err := q.db.ExecContext(ctx, insertDecision,
		e.ID, e.UserID, e.Action, e.Allowed, e.Reason, e.PlanCode, e.CountsTowardQuota,
		e.CurrentUsage, e.Limit, experiments, sessionID,
		nullString(e.IP), nullString(e.RequestID), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision log entry: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DecisionDailyCount is one row of the per-day aggregation query used by
// the metrics job.
type DecisionDailyCount struct {
	ExperimentName string
	UserID         uuid.UUID
	Group          domain.Group
	Action         domain.ActionKind
	Allowed        bool
	Count          int64
}

// The experiments column stores [{"name": ..., "group": ...}] objects;
// "group" needs quoting in the recordset definition.
const countDecisionsByExperiment = `
SELECT x.name, d.user_id, x."group", d.action, d.allowed, COUNT(*)
FROM decision_log d
CROSS JOIN LATERAL jsonb_to_recordset(d.experiments) AS x(name text, "group" text)
WHERE d.created_at >= $1 AND d.created_at < $2 AND d.experiments IS NOT NULL
GROUP BY x.name, d.user_id, x."group", d.action, d.allowed
`

// CountDecisionsByExperiment aggregates one window of decision log
// entries per (experiment, user, group, action, outcome). Used by the
// daily metrics aggregation job.
func (q *Queries) CountDecisionsByExperiment(ctx context.Context, from, to time.Time) ([]DecisionDailyCount, error) {
	rows, err := q.db.QueryContext(ctx, countDecisionsByExperiment, from, to)
	if err != nil {
		return nil, fmt.Errorf("count decisions by experiment: %w", err)
	}
	defer rows.Close()

	var counts []DecisionDailyCount
	for rows.Next() {
		var c DecisionDailyCount
		if err := rows.Scan(&c.ExperimentName, &c.UserID, &c.Group, &c.Action, &c.Allowed, &c.Count); err != nil {
			return nil, fmt.Errorf("scan decision count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
