// Package main provides a CI-friendly smoke test for the kaenbyou event stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - identify -> ready with the login snapshot
//   - ping -> pong
//   - optional: message.create through the REST proxy arrives as a live event
//   - resume: a second subscriber with a sequence replays without gaps
//   - a wrong token is closed with 4004
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "kaenbyou/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "kaenbyou.events.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/v1/events", "event stream URL")
		apiURL   = flag.String("api", "", "REST base URL, e.g. http://127.0.0.1:8080/v1 (enables the send check)")
		origin   = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		token    = flag.String("token", "", "bearer token")
		platform = flag.String("platform", "", "bot platform for the send check")
		selfID   = flag.String("self-id", "", "bot self id for the send check")
		channel  = flag.String("channel", "", "channel id for the send check")
		text     = flag.String("text", "kaenbyou smoke 👋", "message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	ready := a.mustIdentify(root, *token, nil, *timeout)
	if *verbose {
		for _, l := range ready.Logins {
			fmt.Printf("login: platform=%s self_id=%s status=%d\n", l.Platform, l.SelfID, l.Status)
		}
	}

	mustWriteWithTimeout(root, a.conn, v1.Envelope{Op: v1.OpPing}, *timeout)
	a.mustReadUntilOp(root, v1.OpPong, *timeout)

	var lastSeq int64
	if *apiURL != "" && *channel != "" {
		mustSend(root, *apiURL, *token, *platform, *selfID, *channel, *text, *timeout)
		evt := a.mustReadEvent(root, v1.TypeMessageCreated, *timeout)
		if evt.Message == nil || evt.Message.Content != *text {
			fatalf("message-created mismatch: %+v", evt.Message)
		}
		lastSeq = evt.ID
		if *verbose {
			fmt.Printf("event: id=%d type=%s channel=%s\n", evt.ID, evt.Type, *channel)
		}
	}

	// Resume from before the last event: the replay must start right after
	// the cursor and be contiguous.
	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	cursor := max(lastSeq-1, 0)
	b.mustIdentify(root, *token, &cursor, *timeout)
	replayed := 0
	if lastSeq > 0 {
		next := cursor + 1
		for next <= lastSeq {
			evt := b.mustReadEvent(root, "", *timeout)
			if evt.ID != next {
				fatalf("replay gap: got=%d want=%d", evt.ID, next)
			}
			next++
			replayed++
		}
	}

	if *token != "" {
		mustRejectToken(root, *wsURL, *origin, *token+"-wrong", *timeout)
	}

	fmt.Printf("OK: logins=%d last_seq=%d replayed=%d\n", len(ready.Logins), lastSeq, replayed)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func dial(parent context.Context, wsURL, origin string, stepTimeout time.Duration) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	assertSubprotocol(resp, defaultSubprotocol)
	conn.SetReadLimit(maxReadBytes)
	return conn, nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	conn, err := dial(parent, wsURL, origin, stepTimeout)
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) mustIdentify(parent context.Context, token string, sequence *int64, stepTimeout time.Duration) v1.ReadyBody {
	env, err := v1.NewEnvelope(v1.OpIdentify, v1.IdentifyBody{Token: token, Sequence: sequence})
	if err != nil {
		fatalf("identify (%s): %v", c.name, err)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	readyEnv := c.mustReadUntilOp(parent, v1.OpReady, stepTimeout)
	var ready v1.ReadyBody
	if err := json.Unmarshal(readyEnv.Body, &ready); err != nil {
		fatalf("unmarshal ready body (%s): %v", c.name, err)
	}
	return ready
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustReadEvent waits for the next event frame, of type wantType when set.
func (c *smokeClient) mustReadEvent(parent context.Context, wantType string, stepTimeout time.Duration) v1.Event {
	for {
		env := c.mustReadUntilOp(parent, v1.OpEvent, stepTimeout)
		var evt v1.Event
		if err := json.Unmarshal(env.Body, &evt); err != nil {
			fatalf("unmarshal event (%s): %v", c.name, err)
		}
		if wantType == "" || evt.Type == wantType {
			return evt
		}
	}
}

func (c *smokeClient) mustReadUntilOp(parent context.Context, want v1.Opcode, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s): %v", want, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %s (%s)", want, c.name)
			}
			fatalf("connection error while waiting for %s (%s): %v", want, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s (%s)", want, c.name)
			}
			if env.Op == want {
				return env
			}
			// Live events may interleave with control frames.
			if env.Op == v1.OpEvent {
				continue
			}
			fatalf("unexpected frame (%s): got=%s want=%s", c.name, env.Op, want)
		}
	}
}

func mustRejectToken(parent context.Context, wsURL, origin, badToken string, stepTimeout time.Duration) {
	conn, err := dial(parent, wsURL, origin, stepTimeout)
	if err != nil {
		fatalf("connect bad-token client: %v", err)
	}
	defer conn.CloseNow()

	env, err := v1.NewEnvelope(v1.OpIdentify, v1.IdentifyBody{Token: badToken})
	if err != nil {
		fatalf("identify: %v", err)
	}
	mustWriteWithTimeout(parent, conn, env, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if got := websocket.CloseStatus(err); got != v1.CloseInvalidToken {
				fatalf("bad token: close status=%d want=%d (%v)", got, v1.CloseInvalidToken, err)
			}
			return
		}
	}
}

// mustSend calls message.create through the REST bot proxy.
func mustSend(parent context.Context, apiURL, token, platform, selfID, channel, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{"channel_id": channel, "content": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/message.create", bytes.NewReader(body))
	if err != nil {
		fatalf("send: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Platform", platform)
	req.Header.Set("X-Self-ID", selfID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("send: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("send: status %d", res.StatusCode)
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
