package messages

import (
	"context"
	"log/slog"
	"sync"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// EventSource is the part of the bot registry the engine depends on.
type EventSource interface {
	ConnectionFinder
	Connections() []bots.Connection
	Subscribe(kind bots.EventKind, h bots.Handler) func()
}

type Config struct {
	Backfill BackfillConfig
	Lanes    int
}

// Service wires the engine together: status changes drive frontier
// resolution and the backfill queue, message events go through the ingestor,
// and everything live ends up at the publisher.
type Service struct {
	log     *slog.Logger
	source  EventSource
	store   Store
	pub     Publisher
	metrics *telemetry.Metrics

	gate     *Gate
	queue    *Queue
	resolver *Resolver
	backfill *Backfiller
	ingest   *Ingestor

	wg sync.WaitGroup
}

func NewService(log *slog.Logger, source EventSource, store Store, pub Publisher, cfg Config, m *telemetry.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	gate := NewGate(store)
	queue := NewQueue()
	return &Service{
		log:      log,
		source:   source,
		store:    store,
		pub:      pub,
		metrics:  m,
		gate:     gate,
		queue:    queue,
		resolver: NewResolver(log, store),
		backfill: NewBackfiller(log, queue, gate, source, cfg.Backfill, m),
		ingest:   NewIngestor(log, gate, pub, cfg.Lanes, m),
	}
}

func (s *Service) Store() Store { return s.store }

func (s *Service) Queue() *Queue { return s.queue }

// Run subscribes to the event source and runs the backfill worker and the
// ingest lanes until ctx is done. Connections already online when Run starts
// are resynchronized right away.
func (s *Service) Run(ctx context.Context) error {
	unsubs := []func(){
		s.source.Subscribe(bots.EventLoginUpdated, func(c bots.Connection, e bots.Event) { s.onLogin(ctx, c, e) }),
		s.source.Subscribe(bots.EventGuildAdded, func(c bots.Connection, e bots.Event) { s.onGuild(ctx, c, e) }),
		s.source.Subscribe(bots.EventMessageCreated, s.onMessage),
		s.source.Subscribe(bots.EventMessageUpdated, s.onMessage),
		s.source.Subscribe(bots.EventMessageDeleted, s.onMessage),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
		s.wg.Wait()
	}()

	for _, conn := range s.source.Connections() {
		if conn.Status() == bots.StatusOnline {
			s.wg.Go(func() { s.Resync(ctx, conn) })
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingest.Run(gctx) })
	g.Go(func() error { return s.backfill.Run(gctx) })
	return g.Wait()
}

func (s *Service) onLogin(ctx context.Context, conn bots.Connection, evt bots.Event) {
	switch evt.Status {
	case bots.StatusOnline:
		s.wg.Go(func() { s.Resync(ctx, conn) })
	case bots.StatusOffline, bots.StatusDisconnect:
		if n := s.queue.Drop(conn.SelfID()); n > 0 {
			s.log.Info("backfill.cancel", "platform", conn.Platform(), "self_id", conn.SelfID(), "dropped", n)
		}
		s.metrics.BackfillQueue(s.queue.Len())
	}
	s.publish(evt)
}

// Resync derives the full task set for conn and replaces whatever was still
// pending for it. Nothing is enqueued if conn went offline meanwhile.
func (s *Service) Resync(ctx context.Context, conn bots.Connection) {
	log := s.log.With("platform", conn.Platform(), "self_id", conn.SelfID())
	tasks, err := s.resolver.Resolve(ctx, conn)
	if err != nil {
		log.Warn("frontier.resolve.fail", "err", err)
		return
	}
	if conn.Status() != bots.StatusOnline {
		log.Info("frontier.resolve.stale", "status", conn.Status().String())
		return
	}
	replaced := s.queue.Replace(conn.SelfID(), tasks)
	s.metrics.BackfillQueue(s.queue.Len())
	log.Info("backfill.enqueue", "tasks", len(tasks), "replaced", replaced)
}

func (s *Service) onGuild(ctx context.Context, conn bots.Connection, evt bots.Event) {
	s.publish(evt)
	guildID := evt.GuildID()
	if guildID == "" {
		return
	}
	s.wg.Go(func() {
		tasks, err := s.resolver.ResolveGuild(ctx, conn, guildID)
		if err != nil {
			s.log.Warn("frontier.resolve.fail", "platform", conn.Platform(), "self_id", conn.SelfID(), "guild_id", guildID, "err", err)
			return
		}
		if len(tasks) == 0 || conn.Status() != bots.StatusOnline {
			return
		}
		s.queue.Push(tasks...)
		s.metrics.BackfillQueue(s.queue.Len())
	})
}

func (s *Service) onMessage(_ bots.Connection, evt bots.Event) {
	if err := s.ingest.Submit(evt); err != nil {
		s.log.Debug("ingest.submit.drop", "kind", evt.Kind, "platform", evt.Platform, "err", err)
	}
}

func (s *Service) publish(evt bots.Event) {
	if s.pub != nil {
		s.pub.Publish(evt)
	}
}
