// Package sysconfig holds the lending parameters shared by every loan: the
// default interest rate and the rates lenders may offer.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"loan-engine/internal/config"
	"loan-engine/internal/pkg/apperrors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

type SystemConfig struct {
	DefaultInterestRate    float64
	AvailableInterestRates []float64
	UpdatedAt              time.Time
	UpdatedBy              string
}

type Repository interface {
	Get(ctx context.Context) (*SystemConfig, error)
}

// Service serves the current configuration from memory. Refresh reloads it
// from the repository.
type Service struct {
	repo     Repository
	defaults SystemConfig
	logger   *slog.Logger

	mu      sync.RWMutex
	current SystemConfig
}

func NewService(repo Repository, cfg config.LoanConfig, logger *slog.Logger) *Service {
	defaults := SystemConfig{
		DefaultInterestRate:    cfg.DefaultInterestRate,
		AvailableInterestRates: slices.Clone(cfg.AvailableInterestRates),
	}
	return &Service{
		repo:     repo,
		defaults: defaults,
		current:  defaults,
		logger:   logger.With("component", "SystemConfigService"),
	}
}

func (s *Service) Current() SystemConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.current
	c.AvailableInterestRates = slices.Clone(s.current.AvailableInterestRates)
	return c
}

func (s *Service) DefaultInterestRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DefaultInterestRate
}

// IsAvailableRate reports whether rate is offered. An empty list allows any
// rate.
func (s *Service) IsAvailableRate(rate float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.current.AvailableInterestRates) == 0 {
		return true
	}
	for _, r := range s.current.AvailableInterestRates {
		if math.Abs(r-rate) < 1e-9 {
			return true
		}
	}
	return false
}

// Refresh loads the stored configuration. A missing row keeps the defaults.
func (s *Service) Refresh(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	stored, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "No stored system configuration, keeping defaults")
			s.set(s.defaults)
			return nil
		}
		s.logger.ErrorContext(ctx, "Failed to load system configuration", "error", err)
		return fmt.Errorf("failed to refresh system configuration: %w", err)
	}

	if err := validate(stored); err != nil {
		s.logger.WarnContext(ctx, "Ignoring invalid stored system configuration", "error", err)
		return err
	}

	s.set(*stored)
	s.logger.InfoContext(ctx, "System configuration refreshed",
		"default_interest_rate", stored.DefaultInterestRate,
		"available_rates", len(stored.AvailableInterestRates),
	)
	return nil
}

func (s *Service) set(c SystemConfig) {
	c.AvailableInterestRates = slices.Clone(c.AvailableInterestRates)
	slices.Sort(c.AvailableInterestRates)
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

func validate(c *SystemConfig) error {
	if c.DefaultInterestRate < 0 || math.IsNaN(c.DefaultInterestRate) {
		return apperrors.NewValidationError("default_interest_rate", "must not be negative")
	}
	for _, r := range c.AvailableInterestRates {
		if r < 0 || math.IsNaN(r) {
			return apperrors.NewValidationError("available_interest_rates", "rates must not be negative")
		}
	}
	return nil
}
