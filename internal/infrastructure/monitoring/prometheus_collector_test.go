package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"sfulink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *PrometheusCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusCollector_SessionGauges(t *testing.T) {
	p := NewPrometheusCollector("test")

	p.SessionTransition(domain.RoleSubscriber, domain.StateNew, domain.StateOfferSent)
	p.SessionTransition(domain.RoleSubscriber, domain.StateOfferSent, domain.StateAnswered)
	p.SessionTransition(domain.RoleSubscriber, domain.StateAnswered, domain.StateFlowing)
	p.SessionTransition(domain.RolePublisher, domain.StateNew, domain.StateOfferSent)
	p.SessionTransition(domain.RolePublisher, domain.StateOfferSent, domain.StateClosed)

	body := scrape(t, p)
	assert.Contains(t, body, `test_sessions{role="subscriber",state="FLOWING"} 1`)
	assert.Contains(t, body, `test_sessions{role="subscriber",state="OFFER_SENT"} 0`)
	assert.Contains(t, body, `test_sessions{role="publisher",state="OFFER_SENT"} 0`)
	assert.NotContains(t, body, `state="CLOSED"} 1`)
	assert.Contains(t, body, `test_session_transitions_total{from="OFFER_SENT",role="publisher",to="CLOSED"} 1`)
}

func TestPrometheusCollector_Recorders(t *testing.T) {
	p := NewPrometheusCollector("test")

	p.ReconnectScheduled("cam-1", 30*time.Second)
	p.NotificationRaised("transport")
	p.NotificationRaised("transport")
	p.ICECandidateBuffered("inbound")
	p.QualityTierChanged(1)
	p.ConnectionLevelChanged(domain.LevelDanger)
	p.QueuedMessages(3)
	p.ObserveRTT(40 * time.Millisecond)
	p.NegotiationCompleted(domain.RoleSubscriber, 2*time.Second)

	body := scrape(t, p)
	assert.Contains(t, body, "test_reconnects_scheduled_total 1")
	assert.Contains(t, body, `test_notifications_total{kind="transport"} 2`)
	assert.Contains(t, body, `test_ice_candidates_buffered_total{direction="inbound"} 1`)
	assert.Contains(t, body, "test_quality_tier 1")
	assert.Contains(t, body, "test_connection_level 2")
	assert.Contains(t, body, "test_signaling_queued_messages 3")
	assert.Contains(t, body, "test_signaling_rtt_seconds_count 1")
	assert.Contains(t, body, `test_negotiation_duration_seconds_count{role="subscriber"} 1`)
}

func TestPrometheusCollector_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusCollector("")
		NewPrometheusCollector("")
	})
}
