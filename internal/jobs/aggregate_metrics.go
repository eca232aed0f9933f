package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opositia/enforce/internal/service"
	"github.com/opositia/enforce/internal/worker"
)

// AggregateMetricsHandler processes jobs that fold a day's decision log
// into per-experiment metric rows.
type AggregateMetricsHandler struct {
	recorder service.MetricsRecorder
	location *time.Location
	logger   *slog.Logger
}

// NewAggregateMetricsHandler creates a new handler for metric aggregation jobs.
func NewAggregateMetricsHandler(recorder service.MetricsRecorder, location *time.Location, logger *slog.Logger) *AggregateMetricsHandler {
	return &AggregateMetricsHandler{
		recorder: recorder,
		location: location,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *AggregateMetricsHandler) Type() string {
	return worker.JobTypeAggregateMetrics
}

// Handle executes the aggregation job for the day named in the payload.
func (h *AggregateMetricsHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.AggregateMetricsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}

	day, err := time.ParseInLocation("2006-01-02", p.Day, h.location)
	if err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid day %q: %w", p.Day, err))
	}

	h.logger.Info("aggregating experiment metrics", "day", p.Day)

	if err := h.recorder.AggregateDay(ctx, day); err != nil {
		return fmt.Errorf("aggregating metrics for %s: %w", p.Day, err)
	}
	return nil
}
