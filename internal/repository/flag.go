package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const getFeatureFlag = `
SELECT enabled FROM feature_flags WHERE name = $1
`

// GetFeatureFlag returns the state of a named flag. Unknown flags read as
// disabled.
func (q *Queries) GetFeatureFlag(ctx context.Context, name string) (bool, error) {
	var enabled bool
	err := q.db.QueryRowContext(ctx, getFeatureFlag, name).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get feature flag: %w", err)
	}
	return enabled, nil
}

const setFeatureFlag = `
INSERT INTO feature_flags (name, enabled, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()
`

// SetFeatureFlag writes a flag value, creating the flag if needed.
func (q *Queries) SetFeatureFlag(ctx context.Context, name string, enabled bool) error {
	if _, err := q.db.ExecContext(ctx, setFeatureFlag, name, enabled); err != nil {
		return fmt.Errorf("set feature flag: %w", err)
	}
	return nil
}
