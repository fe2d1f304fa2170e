package batch_test

import (
	"context"
	"errors"
	"io"
	"loan-engine/internal/batch"
	"loan-engine/internal/config"
	"loan-engine/internal/infrastructure/monitoring"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRefreshConfigJob_Run(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		monitoring.Business.ConfigRefreshTotal.Reset()
		refresher := new(MockRefresher)
		refresher.On("Refresh", mock.Anything).Return(nil).Once()

		job := batch.NewRefreshConfigJob(refresher, logger)
		err := job.Run(context.Background())

		assert.NoError(t, err)
		refresher.AssertExpectations(t)
		assert.Equal(t, 1.0, testutil.ToFloat64(monitoring.Business.ConfigRefreshTotal.WithLabelValues("success")))
	})

	t.Run("failure is returned and counted", func(t *testing.T) {
		monitoring.Business.ConfigRefreshTotal.Reset()
		refresher := new(MockRefresher)
		dbErr := errors.New("connection refused")
		refresher.On("Refresh", mock.Anything).Return(dbErr).Once()

		job := batch.NewRefreshConfigJob(refresher, logger)
		err := job.Run(context.Background())

		assert.ErrorIs(t, err, dbErr)
		assert.Equal(t, 1.0, testutil.ToFloat64(monitoring.Business.ConfigRefreshTotal.WithLabelValues("failure")))
	})
}

func TestNewRefreshConfigJob_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { batch.NewRefreshConfigJob(nil, logger) })
	assert.Panics(t, func() { batch.NewRefreshConfigJob(new(MockRefresher), nil) })
}

func TestRefreshConfigJob_Schedule(t *testing.T) {
	t.Run("defaults when unset", func(t *testing.T) {
		c := cron.New()
		job := batch.NewRefreshConfigJob(new(MockRefresher), logger)

		id, err := job.Schedule(c, config.BatchConfig{})

		require.NoError(t, err)
		entry := c.Entry(id)
		assert.True(t, entry.Valid())
		assert.Equal(t, cron.Every(5*time.Minute), entry.Schedule)
	})

	t.Run("invalid spec", func(t *testing.T) {
		c := cron.New()
		job := batch.NewRefreshConfigJob(new(MockRefresher), logger)

		_, err := job.Schedule(c, config.BatchConfig{ConfigRefreshSchedule: "not a schedule"})

		assert.Error(t, err)
		assert.Empty(t, c.Entries())
	})

	t.Run("scheduled run uses a deadline", func(t *testing.T) {
		c := cron.New()
		refresher := new(MockRefresher)
		done := make(chan struct{})
		refresher.On("Refresh", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})).Return(nil).Run(func(mock.Arguments) { close(done) }).Once()

		job := batch.NewRefreshConfigJob(refresher, logger)
		id, err := job.Schedule(c, config.BatchConfig{ConfigRefreshSchedule: "@every 1h", ConfigRefreshTimeout: time.Second})
		require.NoError(t, err)

		c.Entry(id).WrappedJob.Run()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("refresh was not called")
		}
		refresher.AssertExpectations(t)
	})
}
