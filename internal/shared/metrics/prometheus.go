package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	casesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Total number of trademark cases created",
		},
		[]string{"trademark_type"},
	)

	casesStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_status_changed_total",
			Help: "Total number of case status changes",
		},
		[]string{"from_status", "to_status"},
	)

	caseNumberRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "case_number_allocation_retries_total",
			Help: "Sequence allocations retried after a unique constraint conflict",
		},
	)

	customerNumberRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "customer_number_allocation_retries_total",
			Help: "Customer number allocations retried after a unique constraint conflict",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total number of case messages sent",
		},
		[]string{"sender_role"},
	)

	messageReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "message_read_receipts_total",
			Help: "Total number of message read receipts recorded",
		},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Sign-up and sign-in attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	roleChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_role_changes_total",
			Help: "Total number of user role changes",
		},
		[]string{"from_role", "to_role"},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource_type", "action", "decision"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_events_published_total",
			Help: "Case activity events handed to the event store",
		},
		[]string{"event_type", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so case and
// message ids do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordCaseCreated records a case creation
func RecordCaseCreated(trademarkType string) {
	casesCreated.WithLabelValues(trademarkType).Inc()
}

// RecordCaseStatusChange records a case status change
func RecordCaseStatusChange(fromStatus, toStatus string) {
	casesStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordCaseNumberRetry records a retried sequence allocation
func RecordCaseNumberRetry() {
	caseNumberRetries.Inc()
}

// RecordCustomerNumberRetry records a retried customer number allocation
func RecordCustomerNumberRetry() {
	customerNumberRetries.Inc()
}

// RecordMessageSent records a new case message
func RecordMessageSent(senderRole string) {
	messagesSent.WithLabelValues(senderRole).Inc()
}

// RecordReadReceipts records newly inserted read receipts
func RecordReadReceipts(n int) {
	if n > 0 {
		messageReceipts.Add(float64(n))
	}
}

// RecordAuthAttempt records a sign-up or sign-in outcome
func RecordAuthAttempt(kind string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	authAttempts.WithLabelValues(kind, outcome).Inc()
}

// RecordRoleChange records a staff role change
func RecordRoleChange(fromRole, toRole string) {
	roleChanges.WithLabelValues(fromRole, toRole).Inc()
}

// RecordAuthorizationDecision records an authorization decision
func RecordAuthorizationDecision(resourceType, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(resourceType, action, decision).Inc()
}

// RecordEventPublished records the outcome of an activity event append
func RecordEventPublished(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}
