package app

import (
	"net"
	"net/http"
	"strings"
	"time"

	"kaenbyou/cmd/internal/api"
	"kaenbyou/cmd/internal/realtime"
	"kaenbyou/cmd/internal/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// eventsPath is the event stream route under the API base path.
const eventsPath = "/v1/events"

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	db *Database,
	ws *realtime.WSGateway,
	rest *api.Handler,
	metrics *telemetry.Metrics,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !db.Enabled() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if err := db.Ping(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "store", db.Kind, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	rest.Register(mux)
	mux.Handle("GET "+cfg.BasePath+eventsPath, ws)
}

// newHTTPHandler stacks the middleware around the mux: tracing outermost so
// the request log and the API see the span.
func newHTTPHandler(mux *http.ServeMux, cfg Config, log Logger) http.Handler {
	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	if len(cfg.CORSAllowedOrigins) > 0 {
		h = WithCORS(h, cfg, log)
	}
	h = WithRequestLogging(h, log)
	return otelhttp.NewHandler(h, "kaenbyou.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz" && r.URL.Path != "/metrics"
		}),
	)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds are reported as loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
