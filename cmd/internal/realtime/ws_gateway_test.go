package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kaenbyou/cmd/internal/bots"

	v1 "kaenbyou/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

type staticLogins []bots.Login

func (s staticLogins) Logins() []bots.Login { return s }

func newTestGateway(t *testing.T, cfg GatewayConfig) (*Dispatcher, *httptest.Server) {
	t.Helper()
	d := NewDispatcher(quietLogger(), DispatcherConfig{}, nil, nil)
	logins := staticLogins{{SelfID: "bot", Platform: "discord", Status: bots.StatusOnline}}
	gw := NewWSGateway(quietLogger(), d, logins, cfg)
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)
	return d, ts
}

func dialWS(t *testing.T, ctx context.Context, serverURL, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	opts := &websocket.DialOptions{Subprotocols: []string{wsSubprotocolV1}}
	if origin != "" {
		opts.HTTPHeader = http.Header{"Origin": []string{origin}}
	}
	return websocket.Dial(ctx, "ws"+strings.TrimPrefix(serverURL, "http"), opts)
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, op v1.Opcode, body any) {
	t.Helper()
	env, err := v1.NewEnvelope(op, body)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, ctx context.Context, c *websocket.Conn) v1.Envelope {
	t.Helper()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func recvEventID(t *testing.T, ctx context.Context, c *websocket.Conn) int64 {
	t.Helper()
	env := recv(t, ctx, c)
	if env.Op != v1.OpEvent {
		t.Fatalf("expected event, got %s", env.Op)
	}
	var evt v1.Event
	if err := json.Unmarshal(env.Body, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return evt.ID
}

func expectClose(t *testing.T, ctx context.Context, c *websocket.Conn, code int) {
	t.Helper()
	for {
		_, _, err := c.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); int(got) != code {
			t.Fatalf("expected close %d, got %d (%v)", code, got, err)
		}
		return
	}
}

func TestWSGateway_IdentifyReadyAndLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, ts := newTestGateway(t, GatewayConfig{Token: "secret"})
	c, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	send(t, ctx, c, v1.OpIdentify, v1.IdentifyBody{Token: "secret"})
	ready := recv(t, ctx, c)
	if ready.Op != v1.OpReady {
		t.Fatalf("expected ready, got %s", ready.Op)
	}
	var body v1.ReadyBody
	if err := json.Unmarshal(ready.Body, &body); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if len(body.Logins) != 1 || body.Logins[0].SelfID != "bot" || body.Logins[0].Status != v1.StatusOnline {
		t.Fatalf("unexpected logins: %+v", body.Logins)
	}

	if err := waitSubscribers(ctx, d, 1); err != nil {
		t.Fatal(err)
	}
	d.Publish(messageCreated("m1"))
	if id := recvEventID(t, ctx, c); id != 1 {
		t.Fatalf("expected event 1, got %d", id)
	}

	send(t, ctx, c, v1.OpPing, nil)
	if env := recv(t, ctx, c); env.Op != v1.OpPong {
		t.Fatalf("expected pong, got %s", env.Op)
	}
}

func TestWSGateway_ResumeReplaysMissedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, ts := newTestGateway(t, GatewayConfig{})
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		d.Publish(messageCreated(id))
	}

	c, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	seq := int64(2)
	send(t, ctx, c, v1.OpIdentify, v1.IdentifyBody{Sequence: &seq})
	if env := recv(t, ctx, c); env.Op != v1.OpReady {
		t.Fatalf("expected ready first, got %s", env.Op)
	}
	for _, want := range []int64{3, 4} {
		if got := recvEventID(t, ctx, c); got != want {
			t.Fatalf("expected replayed %d, got %d", want, got)
		}
	}

	d.Publish(messageCreated("m5"))
	if got := recvEventID(t, ctx, c); got != 5 {
		t.Fatalf("expected live 5, got %d", got)
	}
}

func TestWSGateway_InvalidTokenCloses4004(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, ts := newTestGateway(t, GatewayConfig{Token: "secret"})
	c, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	send(t, ctx, c, v1.OpIdentify, v1.IdentifyBody{Token: "wrong"})
	expectClose(t, ctx, c, v1.CloseInvalidToken)
	if n := d.Subscribers(); n != 0 {
		t.Fatalf("rejected client must not subscribe, got %d", n)
	}
}

func TestWSGateway_MalformedFrameCloses4000(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, ts := newTestGateway(t, GatewayConfig{})
	c, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, ctx, c, v1.CloseInvalidMessage)

	c2, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c2.CloseNow()
	send(t, ctx, c2, v1.OpReady, nil)
	expectClose(t, ctx, c2, v1.CloseInvalidMessage)
}

func TestWSGateway_DuplicateIdentifyRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, ts := newTestGateway(t, GatewayConfig{})
	c, _, err := dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	send(t, ctx, c, v1.OpIdentify, v1.IdentifyBody{})
	if env := recv(t, ctx, c); env.Op != v1.OpReady {
		t.Fatalf("expected ready, got %s", env.Op)
	}
	send(t, ctx, c, v1.OpIdentify, v1.IdentifyBody{})
	expectClose(t, ctx, c, v1.CloseInvalidMessage)
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, ts := newTestGateway(t, GatewayConfig{AllowedOrigins: []string{"https://console.example.com"}})

	_, resp, err := dialWS(t, ctx, ts.URL, "https://evil.example.net")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, err=%v", err)
	}

	c, _, err := dialWS(t, ctx, ts.URL, "https://console.example.com")
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	c.CloseNow()

	c, _, err = dialWS(t, ctx, ts.URL, "")
	if err != nil {
		t.Fatalf("origin-less clients are allowed by default: %v", err)
	}
	c.CloseNow()
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatterns([]string{"https://B.example.com:8443", "http://a.example.com", "a.example.com", " "})
	want := []string{"a.example.com", "b.example.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns: got %v want %v", got, want)
	}
	if got := deriveOriginPatterns([]string{"x.example.com", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard should collapse, got %v", got)
	}
}

func waitSubscribers(ctx context.Context, d *Dispatcher, n int) error {
	for d.Subscribers() != n {
		select {
		case <-ctx.Done():
			return errors.New("timed out waiting for subscriber")
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}
