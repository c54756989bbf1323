package realtime

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kaenbyou/cmd/internal/telemetry"

	v1 "kaenbyou/shared/contracts/events/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hit struct {
	auth     string
	delivery string
	body     []byte
}

type sink struct {
	mu   sync.Mutex
	hits []hit
}

func (s *sink) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.hits = append(s.hits, hit{auth: r.Header.Get("Authorization"), delivery: r.Header.Get("X-Kaenbyou-Delivery"), body: b})
		s.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (s *sink) Hits() []hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hit(nil), s.hits...)
}

func TestWebhooksDeliverEventBodies(t *testing.T) {
	ok := &sink{}
	okSrv := httptest.NewServer(ok.handler(http.StatusNoContent))
	defer okSrv.Close()
	bad := &sink{}
	badSrv := httptest.NewServer(bad.handler(http.StatusInternalServerError))
	defer badSrv.Close()

	m := telemetry.NewMetrics()
	wh := NewWebhooks(quietLogger(), time.Second, m)
	wh.SetTargets([]WebhookTarget{
		{Enabled: true, Endpoint: okSrv.URL, Token: "secret"},
		{Enabled: true, Endpoint: badSrv.URL},
		{Enabled: false, Endpoint: okSrv.URL + "/disabled"},
	})
	require.Len(t, wh.Targets(), 3)

	d := NewDispatcher(quietLogger(), DispatcherConfig{}, wh, m)
	d.Publish(messageCreated("m1"))
	wh.Wait()

	hits := ok.Hits()
	require.Len(t, hits, 1)
	assert.Equal(t, "Bearer secret", hits[0].auth)
	assert.NotEmpty(t, hits[0].delivery)

	var evt v1.Event
	require.NoError(t, json.Unmarshal(hits[0].body, &evt))
	assert.Equal(t, int64(1), evt.ID)
	assert.Equal(t, "m1", evt.Message.ID)

	badHits := bad.Hits()
	require.Len(t, badHits, 1)
	assert.Empty(t, badHits[0].auth)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `kaenbyou_dispatch_webhook_deliveries_total{result="ok"} 1`)
	assert.Contains(t, rr.Body.String(), `kaenbyou_dispatch_webhook_deliveries_total{result="rejected"} 1`)
}

func TestWebhooksUnreachableTargetDoesNotBlock(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	wh := NewWebhooks(quietLogger(), 200*time.Millisecond, nil)
	wh.SetTargets([]WebhookTarget{{Enabled: true, Endpoint: url}})

	start := time.Now()
	wh.Deliver([]byte(`{"id":1}`))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	wh.Wait()
}
