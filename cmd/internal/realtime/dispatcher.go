package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/telemetry"

	v1 "kaenbyou/shared/contracts/events/v1"
)

const DefaultSweepInterval = 10 * time.Second

type DispatcherConfig struct {
	Retention     time.Duration
	MaxBuffered   int
	SweepInterval time.Duration
}

// Dispatcher assigns sequences to live events, keeps them in the resume
// buffer and fans them out to streaming clients and webhooks.
//
// Publish and Attach serialize on one lock, so a client attaching with a
// cursor sees every retained event after it exactly once: either through
// the replay or as a live frame, never both and never out of order.
type Dispatcher struct {
	log      *slog.Logger
	metrics  *telemetry.Metrics
	webhooks *Webhooks
	cfg      DispatcherConfig
	now      func() time.Time

	mu      sync.Mutex
	seq     int64
	buffer  *Buffer
	clients map[string]*Client
}

func NewDispatcher(log *slog.Logger, cfg DispatcherConfig, webhooks *Webhooks, m *telemetry.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Dispatcher{
		log:      log,
		metrics:  m,
		webhooks: webhooks,
		cfg:      cfg,
		now:      time.Now,
		buffer:   NewBuffer(cfg.Retention, cfg.MaxBuffered),
		clients:  make(map[string]*Client),
	}
}

// Publish implements the engine's publisher: every call becomes one
// sequenced event.
func (d *Dispatcher) Publish(evt bots.Event) {
	d.Dispatch(evt)
}

// Dispatch sequences evt and returns the assigned sequence, or 0 when the
// event could not be encoded.
func (d *Dispatcher) Dispatch(evt bots.Event) int64 {
	d.mu.Lock()
	seq := d.seq + 1
	body, err := json.Marshal(EventBody(seq, evt))
	if err != nil {
		d.mu.Unlock()
		d.log.Warn("dispatch.encode.fail", "kind", evt.Kind, "platform", evt.Platform, "err", err)
		return 0
	}
	frame, err := json.Marshal(v1.Envelope{Op: v1.OpEvent, Body: body})
	if err != nil {
		d.mu.Unlock()
		d.log.Warn("dispatch.encode.fail", "kind", evt.Kind, "platform", evt.Platform, "err", err)
		return 0
	}
	d.seq = seq
	d.buffer.Append(seq, d.now(), frame)

	var slow []string
	for id, c := range d.clients {
		if c.State() != StateStreaming {
			continue
		}
		if !c.offer(seq, frame) && c.Overflowed() {
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		delete(d.clients, id)
	}
	subscribers := len(d.clients)
	d.mu.Unlock()

	for _, id := range slow {
		d.log.Warn("dispatch.client.slow", "session_id", id, "seq", seq)
	}
	d.metrics.Dispatched(seq, d.buffer.Len())
	d.metrics.Subscribers(subscribers)

	if d.webhooks != nil {
		d.webhooks.Deliver(body)
	}
	return seq
}

// Attach registers an authorized client for live delivery. With a non-nil
// after, every retained event with a greater sequence is queued first.
// It returns the number of replayed events.
func (d *Dispatcher) Attach(c *Client, after *int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.State() != StateAuthorized {
		return 0, ErrNotAuthorized
	}

	replayed := 0
	if after != nil {
		for _, e := range d.buffer.Since(*after) {
			c.replay(e.seq, e.frame)
			replayed++
		}
	}
	if !c.startStreaming() {
		return replayed, ErrNotAuthorized
	}
	d.clients[c.ID] = c
	d.metrics.Subscribers(len(d.clients))
	return replayed, nil
}

// Detach forgets a client. It is safe to call more than once.
func (d *Dispatcher) Detach(id string) {
	d.mu.Lock()
	delete(d.clients, id)
	n := len(d.clients)
	d.mu.Unlock()
	d.metrics.Subscribers(n)
}

// Run sweeps expired events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := d.buffer.Sweep(d.now()); n > 0 {
				d.log.Debug("dispatch.sweep", "evicted", n, "buffered", d.buffer.Len())
			}
		}
	}
}

// Seq is the last assigned sequence.
func (d *Dispatcher) Seq() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

func (d *Dispatcher) Buffer() *Buffer { return d.buffer }

func (d *Dispatcher) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}
