package messages

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/telemetry"
)

const (
	DefaultFetchInterval = 50 * time.Millisecond
	DefaultFetchTimeout  = 30 * time.Second
)

// ConnectionFinder resolves the online connection for a self id.
type ConnectionFinder interface {
	Find(selfID string) (bots.Connection, bool)
}

type BackfillConfig struct {
	// Interval between ticks. One page is fetched per tick at most, which
	// is the rate limit against platform APIs.
	Interval time.Duration
	// FetchTimeout bounds a single history request.
	FetchTimeout time.Duration
}

// Backfiller is the single worker draining the backfill queue.
type Backfiller struct {
	log     *slog.Logger
	queue   *Queue
	gate    *Gate
	conns   ConnectionFinder
	cfg     BackfillConfig
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewBackfiller(log *slog.Logger, q *Queue, gate *Gate, conns ConnectionFinder, cfg BackfillConfig, m *telemetry.Metrics) *Backfiller {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFetchInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Backfiller{
		log:     log,
		queue:   q,
		gate:    gate,
		conns:   conns,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is done. Ticks never overlap: a slow fetch delays the
// next tick instead of running alongside it.
func (b *Backfiller) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b.Step(ctx)
		}
	}
}

// Step processes at most one task and returns it with its resulting state,
// or nil when the queue was empty.
func (b *Backfiller) Step(ctx context.Context) *Task {
	t := b.queue.Pop()
	if t == nil {
		b.metrics.BackfillTick("idle")
		return nil
	}
	defer func() {
		b.metrics.BackfillTick(t.State.String())
		b.metrics.BackfillQueue(b.queue.Len())
	}()

	ctx, span := telemetry.Tracer().Start(ctx, "backfill.tick", telemetry.Attrs(
		"platform", t.Platform, "self_id", t.SelfID, "channel_id", t.ChannelID,
	))
	defer span.End()

	log := b.log.With("platform", t.Platform, "self_id", t.SelfID, "guild_id", t.GuildID, "channel_id", t.ChannelID)

	conn, ok := b.conns.Find(t.SelfID)
	if !ok {
		t.State = TaskAbandoned
		log.Warn("backfill.task.drop", "reason", "connection_offline")
		return t
	}

	t.State = TaskFetching
	fctx, cancel := context.WithTimeout(ctx, b.cfg.FetchTimeout)
	page, err := conn.ListMessageHistory(fctx, t.ChannelID, t.Cursor)
	cancel()
	if err != nil {
		t.State = TaskAbandoned
		span.RecordError(err)
		log.Warn("backfill.fetch.fail", "cursor", t.Cursor, "err", err)
		return t
	}
	t.Pages++

	items := newestFirst(page.Items)
	idx := indexOfMessage(items, t.Frontier)

	persist := items
	if idx >= 0 {
		persist = items[:idx]
	}
	if len(persist) > 0 {
		if err := b.gate.Upsert(ctx, b.deltas(t, persist)...); err != nil {
			t.State = TaskAbandoned
			span.RecordError(err)
			log.Warn("backfill.persist.fail", "cursor", t.Cursor, "count", len(persist), "err", err)
			return t
		}
		b.metrics.BackfillPersisted(len(persist))
	}

	switch {
	case idx >= 0:
		t.State = TaskDone
		log.Debug("backfill.task.done", "reason", "frontier_reached", "pages", t.Pages)
	case page.Next == "":
		t.State = TaskDone
		log.Debug("backfill.task.done", "reason", "history_exhausted", "pages", t.Pages)
	case page.Next == t.Cursor:
		t.State = TaskDone
		log.Warn("backfill.task.done", "reason", "cursor_stalled", "cursor", t.Cursor, "pages", t.Pages)
	default:
		t.Cursor = page.Next
		if !b.queue.Requeue(t) {
			t.State = TaskAbandoned
			log.Info("backfill.task.drop", "reason", "connection_reset")
		}
	}
	return t
}

func (b *Backfiller) deltas(t *Task, msgs []bots.Message) []MessageDelta {
	now := b.now()
	out := make([]MessageDelta, 0, len(msgs))
	for _, m := range msgs {
		d := messageDelta(t.Platform, t.ChannelID, m, now)
		if d.GuildID == nil && t.GuildID != "" {
			d.GuildID = ptr(t.GuildID)
		}
		out = append(out, d)
	}
	return out
}

// newestFirst returns a copy of msgs stably sorted by creation time,
// newest first. Equal timestamps keep platform order.
func newestFirst(msgs []bots.Message) []bots.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b bots.Message) int {
		return b.Created().Compare(a.Created())
	})
	return out
}

func indexOfMessage(msgs []bots.Message, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(msgs, func(m bots.Message) bool { return m.ID == id })
}
