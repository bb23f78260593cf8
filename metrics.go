package bluquist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate decision labels.
const (
	DecisionPublic         = "public"
	DecisionNoHeader       = "no_header"
	DecisionMalformed      = "malformed"
	DecisionNotFound       = "not_found"
	DecisionExpired        = "expired"
	DecisionOriginMismatch = "origin_mismatch"
	DecisionRoleDenied     = "role_denied"
	DecisionAuthorized     = "authorized"
	DecisionError          = "error"
)

// Metrics holds the Engine's Prometheus collectors.
type Metrics struct {
	GateDecisions     *prometheus.CounterVec
	SessionsStarted   *prometheus.CounterVec
	SessionsDestroyed *prometheus.CounterVec
	SessionWritebacks *prometheus.CounterVec
	Logins            *prometheus.CounterVec
	AuditDropsTotal   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		GateDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "gate_decisions_total",
				Help:      "Authentication gate outcomes",
			},
			[]string{"result"},
		),
		SessionsStarted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "sessions_started_total",
				Help:      "Sessions created by login",
			},
			[]string{"role"},
		),
		SessionsDestroyed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "sessions_destroyed_total",
				Help:      "Sessions destroyed, by reason",
			},
			[]string{"reason"}, // logout, expired, revoked
		),
		SessionWritebacks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "session_writebacks_total",
				Help:      "End-of-request session write-backs",
			},
			[]string{"outcome"}, // saved, skipped, gone, failed
		),
		Logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "logins_total",
				Help:      "Login attempts, by result",
			},
			[]string{"result"}, // success, invalid_credentials, rate_limited, error
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "bluquist",
				Name:      "audit_drops_total",
				Help:      "Audit events dropped due to backpressure",
			},
		),
	}
}
