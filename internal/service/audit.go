// Package service contains the business logic layer.
//
// This file implements the decision audit log writer. Audit writes are
// best-effort relative to the decision path: a transient audit failure
// must never block or fail the decision itself, so failures are surfaced
// to operational logging and metrics instead of the caller.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/opositia/enforce/internal/domain"
	"github.com/opositia/enforce/internal/metrics"
	"github.com/opositia/enforce/internal/repository"
)

// AuditLog records enforcement decisions.
type AuditLog interface {
	// Record appends one decision log entry. It never returns an error;
	// failed writes are logged and counted.
	Record(ctx context.Context, entry domain.DecisionLogEntry)
}

type auditLog struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewAuditLog creates the decision log writer.
func NewAuditLog(queries *repository.Queries, logger *slog.Logger) AuditLog {
	return &auditLog{
		queries: queries,
		logger:  logger.With(slog.String("component", "audit_log")),
	}
}

func (a *auditLog) Record(ctx context.Context, entry domain.DecisionLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	if err := a.queries.InsertDecision(ctx, entry); err != nil {
		a.logger.Error("decision log write failed",
			"error", err,
			"user_id", entry.UserID,
			"action", entry.Action,
			"reason", entry.Reason,
		)
		metrics.AuditWriteFailures.Inc()
	}
}
