package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the billing Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OrganizationsCreated *prometheus.CounterVec
	CheckoutSessions     *prometheus.CounterVec
	CreditsConsumed      prometheus.Counter
	CreditsGranted       *prometheus.CounterVec
	CreditsRejected      prometheus.Counter
	WebhookEvents        *prometheus.CounterVec
	InvitationsExpired   prometheus.Counter
}

// New creates and registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		OrganizationsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprayops_organizations_created_total",
				Help: "Organizations created, by kind",
			},
			[]string{"kind"},
		),
		CheckoutSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprayops_checkout_sessions_total",
				Help: "Checkout sessions started, by mode and item",
			},
			[]string{"mode", "item"},
		),
		CreditsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sprayops_credits_consumed_total",
				Help: "Credits consumed by organizations",
			},
		),
		CreditsGranted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprayops_credits_granted_total",
				Help: "Credits granted, by source",
			},
			[]string{"source"},
		),
		CreditsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sprayops_credit_requests_rejected_total",
				Help: "Credit consumption requests rejected for insufficient balance",
			},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprayops_webhook_events_total",
				Help: "Payment webhook events, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		InvitationsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sprayops_invitations_expired_total",
				Help: "Pending invitations marked expired by maintenance",
			},
		),
	}

	registry.MustRegister(
		m.OrganizationsCreated,
		m.CheckoutSessions,
		m.CreditsConsumed,
		m.CreditsGranted,
		m.CreditsRejected,
		m.WebhookEvents,
		m.InvitationsExpired,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrganizationCreated(kind string) {
	if m == nil {
		return
	}
	m.OrganizationsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) CheckoutStarted(mode, item string) {
	if m == nil {
		return
	}
	m.CheckoutSessions.WithLabelValues(mode, item).Inc()
}

func (m *Metrics) Consumed(amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.CreditsConsumed.Add(float64(amount))
}

func (m *Metrics) Granted(source string, amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.CreditsGranted.WithLabelValues(source).Add(float64(amount))
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.CreditsRejected.Inc()
}

func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Expired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.InvitationsExpired.Add(float64(n))
}
