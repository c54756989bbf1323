package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"kaenbyou/cmd/internal/validate"

	"github.com/google/uuid"
)

// Factory builds a connection for one platform from its JSON config.
type Factory struct {
	Platform string
	Schema   []byte
	New      func(log *slog.Logger, raw json.RawMessage) (Connection, error)
}

// Handler observes events published by any registered connection.
// Handlers run on the emitting connection's goroutine and must not block.
type Handler func(conn Connection, evt Event)

type factoryEntry struct {
	f      Factory
	schema *validate.Schema
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Registry owns the running connections and fans their events out to
// subscribers.
type Registry struct {
	log *slog.Logger

	mu        sync.RWMutex
	factories map[string]factoryEntry
	conns     map[string]Connection
	order     []string

	hmu      sync.RWMutex
	handlers map[EventKind][]handlerEntry
	nextID   uint64
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log,
		factories: make(map[string]factoryEntry),
		conns:     make(map[string]Connection),
		handlers:  make(map[EventKind][]handlerEntry),
	}
}

// RegisterFactory makes a platform available to Open.
func (r *Registry) RegisterFactory(f Factory) error {
	if f.Platform == "" || f.New == nil {
		return errors.New("bots: factory needs a platform and a constructor")
	}
	var sch *validate.Schema
	if len(f.Schema) > 0 {
		s, err := validate.Compile(f.Platform+"-config", f.Schema)
		if err != nil {
			return err
		}
		sch = s
	}

	r.mu.Lock()
	r.factories[f.Platform] = factoryEntry{f: f, schema: sch}
	r.mu.Unlock()
	return nil
}

// Platforms lists the platforms with a registered factory.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	return out
}

// Open validates raw against the platform schema, builds the connection and
// starts it.
func (r *Registry) Open(ctx context.Context, platform string, raw json.RawMessage) (string, Connection, error) {
	r.mu.RLock()
	fe, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	if fe.schema != nil {
		if err := fe.schema.JSON(raw); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	conn, err := fe.f.New(r.log.With("platform", platform), raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	id, err := r.Add(ctx, conn)
	if err != nil {
		return "", nil, err
	}
	return id, conn, nil
}

// Add registers conn under a fresh instance id and starts it.
func (r *Registry) Add(ctx context.Context, conn Connection) (string, error) {
	id := uuid.NewString()

	r.mu.Lock()
	r.conns[id] = conn
	r.order = append(r.order, id)
	r.mu.Unlock()

	if err := conn.Start(ctx, func(evt Event) { r.publish(conn, evt) }); err != nil {
		r.drop(id)
		r.log.Warn("bots.start.fail", "instance_id", id, "platform", conn.Platform(), "err", err)
		return "", err
	}

	r.log.Info("bots.start", "instance_id", id, "platform", conn.Platform())
	return id, nil
}

// Remove stops and forgets a connection.
func (r *Registry) Remove(ctx context.Context, id string) error {
	conn := r.drop(id)
	if conn == nil {
		return ErrConnectionNotFound
	}
	return conn.Stop(ctx)
}

// StopAll stops every connection. Errors are logged.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	conns := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		conns = append(conns, r.conns[id])
	}
	r.conns = make(map[string]Connection)
	r.order = nil
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Stop(ctx); err != nil {
			r.log.Warn("bots.stop.fail", "platform", c.Platform(), "self_id", c.SelfID(), "err", err)
		}
	}
}

func (r *Registry) drop(id string) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return conn
}

// Connections returns every registered connection in start order.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

// Logins snapshots the login of every connection.
func (r *Registry) Logins() []Login {
	conns := r.Connections()
	out := make([]Login, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Login())
	}
	return out
}

// Find returns the online connection with the given self id.
func (r *Registry) Find(selfID string) (Connection, bool) {
	return r.FindOn("", selfID)
}

// FindOn is Find restricted to a platform. An empty platform matches any.
func (r *Registry) FindOn(platform, selfID string) (Connection, bool) {
	if selfID == "" {
		return nil, false
	}
	for _, c := range r.Connections() {
		if c.SelfID() != selfID || c.Status() != StatusOnline {
			continue
		}
		if platform != "" && c.Platform() != platform {
			continue
		}
		return c, true
	}
	return nil, false
}

// Subscribe registers h for events of kind. The returned func unsubscribes.
func (r *Registry) Subscribe(kind EventKind, h Handler) func() {
	r.hmu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[kind] = append(r.handlers[kind], handlerEntry{id: id, fn: h})
	r.hmu.Unlock()

	return func() {
		r.hmu.Lock()
		defer r.hmu.Unlock()
		hs := r.handlers[kind]
		for i, e := range hs {
			if e.id == id {
				r.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) publish(conn Connection, evt Event) {
	r.hmu.RLock()
	hs := append([]handlerEntry(nil), r.handlers[evt.Kind]...)
	r.hmu.RUnlock()

	if evt.Kind == EventLoginUpdated {
		r.log.Info("bots.status", "platform", evt.Platform, "self_id", evt.SelfID, "status", evt.Status.String())
	}
	for _, h := range hs {
		h.fn(conn, evt)
	}
}

// WaitOnline blocks until conn reports online or ctx ends.
func (r *Registry) WaitOnline(ctx context.Context, conn Connection) error {
	online := make(chan struct{}, 1)
	cancel := r.Subscribe(EventLoginUpdated, func(c Connection, evt Event) {
		if c == conn && evt.Status == StatusOnline {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if conn.Status() == StatusOnline {
		return nil
	}
	select {
	case <-online:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
