package batch

import (
	"context"
	"fmt"
	"loan-engine/internal/config"
	"loan-engine/internal/infrastructure/monitoring"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultRefreshSchedule = "@every 5m"
	defaultRefreshTimeout  = 30 * time.Second
)

// Refresher reloads state from its backing store. *sysconfig.Service
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type RefreshConfigJob struct {
	refresher Refresher
	logger    *slog.Logger
}

func NewRefreshConfigJob(refresher Refresher, logger *slog.Logger) *RefreshConfigJob {
	if refresher == nil || logger == nil {
		panic("RefreshConfigJob dependencies cannot be nil")
	}
	return &RefreshConfigJob{
		refresher: refresher,
		logger:    logger.With("job", "RefreshConfig"),
	}
}

func (j *RefreshConfigJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.DebugContext(ctx, "Starting system configuration refresh job.")

	if err := j.refresher.Refresh(ctx); err != nil {
		monitoring.RecordConfigRefresh("failure")
		j.logger.ErrorContext(ctx, "System configuration refresh failed.",
			slog.Any("error", err),
			slog.Duration("duration", time.Since(startTime)),
		)
		return fmt.Errorf("config refresh failed: %w", err)
	}

	monitoring.RecordConfigRefresh("success")
	j.logger.DebugContext(ctx, "System configuration refresh job finished.", slog.Duration("duration", time.Since(startTime)))
	return nil
}

// Schedule registers the job on c. Every run gets its own timeout so a hung
// database call cannot pile up runs.
func (j *RefreshConfigJob) Schedule(c *cron.Cron, cfg config.BatchConfig) (cron.EntryID, error) {
	spec := cfg.ConfigRefreshSchedule
	if spec == "" {
		spec = defaultRefreshSchedule
		j.logger.Warn("Config refresh schedule not configured, using default", "schedule", spec)
	}
	timeout := cfg.ConfigRefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	id, err := c.AddJob(spec, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = j.Run(ctx)
	}))
	if err != nil {
		j.logger.Error("Failed to schedule config refresh job", "schedule", spec, slog.Any("error", err))
		return 0, fmt.Errorf("invalid config refresh schedule %q: %w", spec, err)
	}

	j.logger.Info("Scheduled config refresh job", "schedule", spec, "timeout", timeout, "job_id", id)
	return id, nil
}
