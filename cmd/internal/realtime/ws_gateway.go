package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/ids"
	"kaenbyou/cmd/security/token"

	v1 "kaenbyou/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "kaenbyou.events.v1"

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// LoginSource snapshots the bot logins sent in Ready.
type LoginSource interface {
	Logins() []bots.Login
}

type GatewayConfig struct {
	// Token, when set, must be presented in Identify.
	Token string

	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	SendQueue         int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RateEvents        int
	RateWindow        time.Duration
}

// WSGateway serves the event stream. A subscriber identifies, receives
// Ready, then the replay of what it missed, then live events.
type WSGateway struct {
	log        *slog.Logger
	dispatcher *Dispatcher
	logins     LoginSource
	cfg        GatewayConfig

	// Derived for websocket.Accept, which only authorizes cross-origin
	// requests whose host matches one of these patterns.
	originPatterns []string
}

func NewWSGateway(log *slog.Logger, d *Dispatcher, logins LoginSource, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = wsDefaultReadIdle
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	return &WSGateway{
		log:            log,
		dispatcher:     d,
		logins:         logins,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the subscriber until either side
// closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ids.Must(time.Now()), g.cfg.SendQueue)
	log := g.log.With("session_id", client.ID)
	log.Info("ws.accept", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.dispatcher.Detach(client.ID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.close", "code", int(code), "reason", reason, "last_seq", client.LastSeq())
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			frame, err := client.Next(ctx)
			if err != nil {
				if client.Overflowed() {
					shutdown(websocket.StatusCode(v1.CloseSlowConsumer), "slow consumer")
				}
				return
			}
			if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err == nil {
					failures = 0
					continue
				}
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			case readErrBadFrame:
				log.Info("ws.read.invalid", "err", err)
				shutdown(websocket.StatusCode(v1.CloseInvalidMessage), "invalid message")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			log.Info("ws.read.invalid", "err", err)
			shutdown(websocket.StatusCode(v1.CloseInvalidMessage), "invalid message")
			break readLoop
		}

		switch env.Op {
		case v1.OpPing:
			client.Push(mustFrame(v1.OpPong, nil))
		case v1.OpIdentify:
			if code, reason, err := g.onIdentify(client, env); err != nil {
				log.Info("ws.identify.fail", "err", err)
				shutdown(code, reason)
				break readLoop
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// onIdentify authorizes the client, queues Ready and attaches it to the
// dispatcher, replaying from the supplied sequence when present.
func (g *WSGateway) onIdentify(client *Client, env v1.Envelope) (websocket.StatusCode, string, error) {
	var body v1.IdentifyBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return websocket.StatusCode(v1.CloseInvalidMessage), "invalid message", fmt.Errorf("identify body: %w", err)
	}
	if !token.Guard(body.Token, g.cfg.Token) {
		return websocket.StatusCode(v1.CloseInvalidToken), "invalid token", errors.New("invalid token")
	}
	if !client.Authorize() {
		return websocket.StatusCode(v1.CloseInvalidMessage), "already identified", errors.New("duplicate identify")
	}

	ready := v1.ReadyBody{Logins: []v1.Login{}}
	if g.logins != nil {
		for _, l := range g.logins.Logins() {
			ready.Logins = append(ready.Logins, LoginBody(l))
		}
	}
	client.Push(mustFrame(v1.OpReady, ready))

	replayed, err := g.dispatcher.Attach(client, body.Sequence)
	if err != nil {
		return websocket.StatusInternalError, "attach failed", err
	}
	attrs := []any{"session_id", client.ID, "logins", len(ready.Logins), "replayed", replayed}
	if body.Sequence != nil {
		attrs = append(attrs, "sequence", *body.Sequence)
	}
	g.log.Info("ws.identify", attrs...)
	return 0, "", nil
}

// ---- frame IO ----

var errBadFrame = errors.New("realtime: bad frame")

func mustFrame(op v1.Opcode, body any) []byte {
	env, err := v1.NewEnvelope(op, body)
	if err != nil {
		panic(fmt.Sprintf("realtime: encode %s: %v", op, err))
	}
	b, err := json.Marshal(env)
	if err != nil {
		panic(fmt.Sprintf("realtime: encode %s: %v", op, err))
	}
	return b
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("%w: message type %v", errBadFrame, mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadFrame):
		return readErrBadFrame
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

// enforceOrigin applies the allowlist to browser handshakes. Requests
// without an Origin header (bots, SDKs) pass unless an origin is required.
func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", a == origin:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
