package main

import (
	"io"
	"loan-engine/internal/config"
	"loan-engine/internal/event"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestStartServer(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:         0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
	}

	srv, serverErrors, shutdownChan := startServer(cfg, http.NewServeMux(), logger)

	assert.NotNil(t, srv, "Server should not be nil")
	assert.NotNil(t, serverErrors, "Server errors channel should not be nil")
	assert.NotNil(t, shutdownChan, "Shutdown channel should not be nil")
	assert.Equal(t, 5*time.Second, srv.ReadTimeout)

	shutdownHTTPServer(srv, serverErrors, logger)
}

func TestHandleShutdown(t *testing.T) {
	cronScheduler := cron.New()
	srv := &http.Server{}
	shutdownChan := make(chan os.Signal, 1)
	serverErrors := make(chan error, 2)

	shutdownChan <- syscall.SIGINT
	serverErrors <- nil
	serverErrors <- nil

	done := make(chan struct{})
	go func() {
		handleShutdown(srv, cronScheduler, nil, nil, shutdownChan, serverErrors, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestRabbitMQURI(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RabbitMQConfig
		want    string
		wantErr bool
	}{
		{name: "credentials", cfg: config.RabbitMQConfig{Host: "mq", Port: 5673, Username: "u", Password: "p"}, want: "amqp://u:p@mq:5673"},
		{name: "anonymous with default port", cfg: config.RabbitMQConfig{Host: "mq"}, want: "amqp://mq:5672"},
		{name: "missing host", cfg: config.RabbitMQConfig{}, wantErr: true},
		{name: "half credentials", cfg: config.RabbitMQConfig{Host: "mq", Username: "u"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rabbitMQURI(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEventPublisher_FallsBackWithoutConnection(t *testing.T) {
	p := newEventPublisher(nil, "loan-engine", logger)
	assert.IsType(t, event.NopPublisher{}, p)
}

func TestInitializeRedisClient_Unconfigured(t *testing.T) {
	assert.Nil(t, initializeRedisClient(&config.Config{}, logger))
}

func TestInitializeSentry_NoDSN(t *testing.T) {
	flush := initializeSentry(config.SentryConfig{}, logger)
	require.NotNil(t, flush)
	flush()
}
