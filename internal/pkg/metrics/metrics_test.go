package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	m.OrganizationCreated("standard")
	m.CheckoutStarted("subscription", "professional")
	m.Consumed(25)
	m.Granted("purchase", 500)
	m.Rejected()
	m.Webhook("invoice.paid", "processed")
	m.Expired(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrganizationsCreated.WithLabelValues("standard")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CheckoutSessions.WithLabelValues("subscription", "professional")))
	assert.Equal(t, float64(25), testutil.ToFloat64(m.CreditsConsumed))
	assert.Equal(t, float64(500), testutil.ToFloat64(m.CreditsGranted.WithLabelValues("purchase")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CreditsRejected))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEvents.WithLabelValues("invoice.paid", "processed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.InvitationsExpired))
}

func TestNonPositiveAmountsAreIgnored(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Consumed(0)
	m.Consumed(-5)
	m.Granted("purchase", 0)
	m.Expired(0)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.CreditsConsumed))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InvitationsExpired))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrganizationCreated("owner")
		m.CheckoutStarted("payment", "credits_500")
		m.Consumed(1)
		m.Granted("period_reset", 1000)
		m.Rejected()
		m.Webhook("checkout.session.completed", "processed")
		m.Expired(1)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Webhook("invoice.payment_failed", "duplicate")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "sprayops_webhook_events_total"))
}
