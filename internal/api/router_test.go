package api

import (
	"bytes"
	"loan-engine/internal/config"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/sysconfig"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	cfg := &config.Config{
		Server: config.ServerConfig{
			Auth: config.AuthConfig{Enabled: true, JWTSecret: testSecret},
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
		Loan: config.LoanConfig{
			DefaultInterestRate:    12,
			AvailableInterestRates: []float64{10, 12, 15},
		},
	}

	rates := sysconfig.NewService(nil, cfg.Loan, logger)
	loanService := loan.NewLoanService(nil, rates, nil, loan.Options{}, logger)
	return SetupRouter(loanService, rates, nil, cfg, logger)
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_CalculateIsPublic(t *testing.T) {
	router := newTestRouter(t)

	body := `{"amount":10000,"interest_rate":12,"term_months":12}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/loans/calculate", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"monthly_payment":888.49`)
}

func TestRouter_CalculateRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	body := `{"amount":1000,"interest_rate":-1,"term_months":12}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/loans/calculate", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"interest_rate"`)
}

func TestRouter_SystemConfigIsPublic(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/system", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"default_interest_rate":12,"available_interest_rates":[10,12,15]}`, rec.Body.String())
}

func TestRouter_LoanRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/loans"},
		{http.MethodGet, "/loans"},
		{http.MethodGet, "/loans/6f1c2a52-8c8e-4a53-9c1e-0a4c1b0f2d11"},
		{http.MethodPost, "/loans/6f1c2a52-8c8e-4a53-9c1e-0a4c1b0f2d11/approve"},
		{http.MethodPost, "/loans/6f1c2a52-8c8e-4a53-9c1e-0a4c1b0f2d11/propose"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_AuthenticatedRequestReachesHandler(t *testing.T) {
	router := newTestRouter(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "lender-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/loans/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UUID")
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
