package postgres

import (
	"context"
	"errors"
	"loan-engine/internal/domain/sysconfig"
	"loan-engine/internal/infrastructure/monitoring"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

type SystemConfigRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ sysconfig.Repository = (*SystemConfigRepository)(nil)

func NewSystemConfigRepository(db DBPool, logger *slog.Logger) *SystemConfigRepository {
	if db == nil {
		panic("DBPool cannot be nil for SystemConfigRepository")
	}
	return &SystemConfigRepository{db: db, logger: logger.With("component", "SystemConfigRepository")}
}

// Get returns the most recently updated configuration row.
func (r *SystemConfigRepository) Get(ctx context.Context) (*sysconfig.SystemConfig, error) {
	query := `
        SELECT default_interest_rate, available_interest_rates, updated_at, updated_by
        FROM system_config
        ORDER BY updated_at DESC
        LIMIT 1`

	start := time.Now()
	var c sysconfig.SystemConfig
	err := r.db.QueryRow(ctx, query).Scan(&c.DefaultInterestRate, &c.AvailableInterestRates, &c.UpdatedAt, &c.UpdatedBy)
	monitoring.RecordDBQuery("GetSystemConfig", queryStatus(err), time.Since(start))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to load system configuration", "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to load system config")
	}
	return &c, nil
}
