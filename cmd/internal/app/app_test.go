package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	v1 "kaenbyou/shared/contracts/events/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://kaenbyou.example.com", want: "wss://kaenbyou.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

// startApp serves a memory-backed App on a loopback port and returns its
// base URL. The app is stopped when the test ends.
func startApp(t *testing.T, cfg Config) string {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfigFrom(map[string]string{
		"KAENBYOU_TOKEN":     "secret",
		"KAENBYOU_BASE_PATH": "/satori",
	})
	require.NoError(t, err)
	return cfg
}

func TestAppServesProbesAndAPI(t *testing.T) {
	base := startApp(t, testConfig(t))

	for path, want := range map[string]string{"/healthz": "ok\n", "/readyz": "ready\n"} {
		res, err := http.Get(base + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.Equal(t, want, string(body), path)
		assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	}

	res, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Contains(t, string(metrics), "go_goroutines")

	req, _ := http.NewRequest(http.MethodPost, base+"/satori/v1/app/contact.list", strings.NewReader(`{}`))
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode, "token required")

	req, _ = http.NewRequest(http.MethodPost, base+"/satori/v1/app/contact.list", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer secret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(base + "/satori/v1/app/contact.list")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestAppEventStreamReady(t *testing.T) {
	base := startApp(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsBaseURL(base)+"/satori"+eventsPath, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	identify, err := v1.NewEnvelope(v1.OpIdentify, v1.IdentifyBody{Token: "secret"})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, identify))

	var env v1.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, v1.OpReady, env.Op)

	var ready v1.ReadyBody
	require.NoError(t, json.Unmarshal(env.Body, &ready))
	assert.Empty(t, ready.Logins)
}
