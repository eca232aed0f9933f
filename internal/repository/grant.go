package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
)

const insertGrantIfAbsent = `
INSERT INTO escape_valve_grants (user_id, day, extra_sessions, seven_day_usage, criterion, created_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (user_id, day) DO NOTHING
`

// InsertGrantIfAbsent writes an escape valve grant for (user, day) if none
// exists yet. Returns inserted=false when a grant was already issued that
// day; the existing row is left untouched.
func (q *Queries) InsertGrantIfAbsent(ctx context.Context, g domain.EscapeValveGrant) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertGrantIfAbsent,
		g.UserID, g.Day, g.ExtraSessions, g.SevenDayUsage, g.Criterion)
	if err != nil {
		return false, fmt.Errorf("insert escape valve grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert escape valve grant: %w", err)
	}
	return n == 1, nil
}

const getGrantForDay = `
SELECT user_id, day, extra_sessions, seven_day_usage, criterion, created_at
FROM escape_valve_grants
WHERE user_id = $1 AND day = $2
`

// GrantForDay returns the grant issued to a user on the given day, or nil
// if none exists.
func (q *Queries) GrantForDay(ctx context.Context, userID uuid.UUID, day string) (*domain.EscapeValveGrant, error) {
	var g domain.EscapeValveGrant
	err := q.db.QueryRowContext(ctx, getGrantForDay, userID, day).
		Scan(&g.UserID, &g.Day, &g.ExtraSessions, &g.SevenDayUsage, &g.Criterion, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get escape valve grant: %w", err)
	}
	return &g, nil
}
