package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BackfillTick("idle")
		m.BackfillPersisted(3)
		m.BackfillQueue(1)
		m.LiveEvent("message-created", "ok")
		m.Dispatched(1, 1)
		m.Subscribers(2)
		m.Webhook("ok")
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics()
	m.BackfillTick("done")
	m.BackfillTick("done")
	m.BackfillPersisted(5)
	m.Dispatched(42, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.backfillTicks.WithLabelValues("done")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.backfillPersisted))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.dispatchSeq))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "kaenbyou_backfill_ticks_total")
	assert.Contains(t, rr.Body.String(), "kaenbyou_dispatch_buffered_events 7")
}
