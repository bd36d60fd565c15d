// ABOUTME: Tests for the Prometheus collectors and the /metrics handler
// ABOUTME: Uses client_golang testutil to read counter values by label

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("expired"))
	ObserveRun("expired", 2*time.Second, 7)
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("expired")))
}

func TestObserveToolCall(t *testing.T) {
	before := testutil.ToFloat64(toolCallsTotal.WithLabelValues("get_meeting_link", "ok"))
	ObserveToolCall("get_meeting_link", "ok", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCallsTotal.WithLabelValues("get_meeting_link", "ok")))

	unsupported := testutil.ToFloat64(toolCallsTotal.WithLabelValues("unsupported", "unsupported"))
	ObserveToolCall("unsupported", "unsupported", 0)
	assert.Equal(t, unsupported+1, testutil.ToFloat64(toolCallsTotal.WithLabelValues("unsupported", "unsupported")))
}

func TestObserveQualification(t *testing.T) {
	before := testutil.ToFloat64(qualificationsTotal.WithLabelValues("keywords", "true"))
	ObserveQualification("keywords", true)
	ObserveQualification("keywords", false)
	assert.Equal(t, before+1, testutil.ToFloat64(qualificationsTotal.WithLabelValues("keywords", "true")))
}

func TestChannelCounters(t *testing.T) {
	dup := testutil.ToFloat64(webhookMessagesTotal.WithLabelValues("duplicate"))
	sent := testutil.ToFloat64(deliveriesTotal.WithLabelValues("sent"))

	ObserveWebhookMessage("duplicate")
	ObserveDelivery("sent")
	ObserveDelivery("sent")

	assert.Equal(t, dup+1, testutil.ToFloat64(webhookMessagesTotal.WithLabelValues("duplicate")))
	assert.Equal(t, sent+2, testutil.ToFloat64(deliveriesTotal.WithLabelValues("sent")))
}

func TestHandler(t *testing.T) {
	ObserveRun("completed", time.Second, 3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lead_gateway_run_total{status="completed"}`)
	assert.Contains(t, rec.Body.String(), "lead_gateway_run_polls_bucket")
}
