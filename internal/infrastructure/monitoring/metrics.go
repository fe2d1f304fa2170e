package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type BusinessMetrics struct {
	CalculationsTotal  *prometheus.CounterVec
	ScheduleLength     prometheus.Histogram
	LoansCreatedTotal  prometheus.Counter
	LoanDecisionsTotal *prometheus.CounterVec
	ProposalsTotal     prometheus.Counter
	EventsPublishTotal *prometheus.CounterVec
	ConfigRefreshTotal *prometheus.CounterVec
}

var (
	HTTP = HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_http_requests_total",
				Help: "Total number of HTTP requests received.",
			},
			[]string{"method", "path", "code"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_engine_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"},
		),
	}

	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Business = BusinessMetrics{
		CalculationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_calculations_total",
				Help: "Amortization calculations by call site and outcome.",
			},
			[]string{"source", "outcome"},
		),
		ScheduleLength: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loan_engine_schedule_length_months",
				Help:    "Number of installments in calculated schedules.",
				Buckets: []float64{1, 6, 12, 24, 36, 60, 120, 240, 360, 600, 1200},
			},
		),
		LoansCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loan_engine_loans_created_total",
				Help: "Total number of loan requests created.",
			},
		),
		LoanDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_loan_decisions_total",
				Help: "Loan approvals and rejections.",
			},
			[]string{"decision"},
		),
		ProposalsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loan_engine_proposals_total",
				Help: "Total number of counter proposals made by lenders.",
			},
		),
		EventsPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_events_published_total",
				Help: "Domain events handed to the broker by routing key and status.",
			},
			[]string{"routing_key", "status"},
		),
		ConfigRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_engine_config_refresh_total",
				Help: "System configuration refresh runs by status.",
			},
			[]string{"status"},
		),
	}
)

func RecordHTTPRequest(method, path, code string, duration time.Duration) {
	HTTP.RequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTP.RequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

// RecordCalculation counts one calculator run. A zero term means the run
// failed before a schedule existed.
func RecordCalculation(source, outcome string, termMonths int) {
	Business.CalculationsTotal.WithLabelValues(source, outcome).Inc()
	if termMonths > 0 {
		Business.ScheduleLength.Observe(float64(termMonths))
	}
}

func RecordLoanCreated() {
	Business.LoansCreatedTotal.Inc()
}

func RecordLoanDecision(decision string) {
	Business.LoanDecisionsTotal.WithLabelValues(decision).Inc()
}

func RecordProposal() {
	Business.ProposalsTotal.Inc()
}

func RecordEventPublished(routingKey, status string) {
	Business.EventsPublishTotal.WithLabelValues(routingKey, status).Inc()
}

func RecordConfigRefresh(status string) {
	Business.ConfigRefreshTotal.WithLabelValues(status).Inc()
}
