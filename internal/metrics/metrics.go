package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP responses by route and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsregister_http_requests_total",
		Help: "The total number of HTTP requests by route and status code",
	}, []string{"route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smsregister_http_request_duration_seconds",
		Help:    "The request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// CodesIssuedTotal counts verification codes written to the store.
	CodesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsregister_verification_codes_issued_total",
		Help: "The total number of verification codes issued",
	})

	// SMSDispatchTotal counts outbound messages by result (sent, failed).
	SMSDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsregister_sms_dispatch_total",
		Help: "The total number of SMS dispatch attempts by result",
	}, []string{"result"})

	SendThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smsregister_sms_send_throttled_total",
		Help: "The total number of code requests rejected by the send throttle",
	})

	// CodeChecksTotal counts code checks by result (match, mismatch).
	CodeChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsregister_code_checks_total",
		Help: "The total number of verification code checks by result",
	}, []string{"result"})

	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsregister_registrations_total",
		Help: "The total number of registration attempts by status",
	}, []string{"status"})

	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smsregister_login_attempts_total",
		Help: "The total number of login attempts by status",
	}, []string{"status"})
)
