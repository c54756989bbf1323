package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/telemetry"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultIngestLanes = 8
	laneBuffer         = 64
)

var errIngestStopped = errors.New("messages: ingestor stopped")

// Publisher receives live mutations after they were persisted.
type Publisher interface {
	Publish(evt bots.Event)
}

type ingestJob struct {
	evt bots.Event
}

// Ingestor applies live message events through the gate. Events are striped
// onto lanes by channel: one channel always lands on the same lane, so its
// events are applied in delivery order while channels proceed concurrently.
type Ingestor struct {
	log     *slog.Logger
	gate    *Gate
	pub     Publisher
	metrics *telemetry.Metrics
	now     func() time.Time

	lanes []chan ingestJob
	done  chan struct{}
	once  sync.Once
}

func NewIngestor(log *slog.Logger, gate *Gate, pub Publisher, lanes int, m *telemetry.Metrics) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	if lanes <= 0 {
		lanes = DefaultIngestLanes
	}
	in := &Ingestor{
		log:     log,
		gate:    gate,
		pub:     pub,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		lanes:   make([]chan ingestJob, lanes),
		done:    make(chan struct{}),
	}
	for i := range in.lanes {
		in.lanes[i] = make(chan ingestJob, laneBuffer)
	}
	return in
}

// Run drains every lane until ctx is done.
func (in *Ingestor) Run(ctx context.Context) error {
	defer in.once.Do(func() { close(in.done) })

	var wg sync.WaitGroup
	for _, lane := range in.lanes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-lane:
					_ = in.Apply(ctx, job.evt)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Submit hands evt to its channel lane. It blocks while the lane is full,
// which pushes back on the emitting connection, and returns an error once
// the ingestor has stopped.
func (in *Ingestor) Submit(evt bots.Event) error {
	select {
	case <-in.done:
		return errIngestStopped
	default:
	}
	lane := in.lanes[in.laneOf(evt)]
	select {
	case lane <- ingestJob{evt: evt}:
		return nil
	case <-in.done:
		return errIngestStopped
	}
}

// laneOf picks the lane by platform and channel. Events without a channel
// (deletes from some platforms) all go to lane 0: they are ordered among
// themselves but not against the channel's create, so such a delete that
// overtakes its create matches nothing and is dropped.
func (in *Ingestor) laneOf(evt bots.Event) int {
	scope := evt.ChannelID()
	if scope == "" {
		return 0
	}
	h := xxhash.Sum64String(evt.Platform + "\x00" + scope)
	return int(h % uint64(len(in.lanes)))
}

// Apply persists one message event and, when the write succeeded, forwards
// it to the publisher. Store failures abandon the event.
func (in *Ingestor) Apply(ctx context.Context, evt bots.Event) error {
	if evt.Message == nil || evt.Message.ID == "" {
		in.metrics.LiveEvent(string(evt.Kind), "invalid")
		return fmt.Errorf("%w: %s without message", ErrInvalidInput, evt.Kind)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "ingest.event", telemetry.Attrs(
		"kind", string(evt.Kind), "platform", evt.Platform, "channel_id", evt.ChannelID(),
	))
	defer span.End()

	var err error
	switch evt.Kind {
	case bots.EventMessageCreated:
		err = in.gate.Upsert(ctx, in.createdDelta(evt))
	case bots.EventMessageUpdated:
		err = in.applyUpdated(ctx, evt)
	case bots.EventMessageDeleted:
		err = in.applyDeleted(ctx, evt)
	default:
		err = fmt.Errorf("%w: unexpected event %s", ErrInvalidInput, evt.Kind)
	}
	if err != nil {
		span.RecordError(err)
		in.metrics.LiveEvent(string(evt.Kind), "error")
		in.log.Warn("ingest.event.fail",
			"kind", evt.Kind,
			"platform", evt.Platform,
			"self_id", evt.SelfID,
			"channel_id", evt.ChannelID(),
			"message_id", evt.Message.ID,
			"err", err,
		)
		return err
	}

	in.metrics.LiveEvent(string(evt.Kind), "applied")
	if in.pub != nil {
		in.pub.Publish(evt)
	}
	return nil
}

func (in *Ingestor) createdDelta(evt bots.Event) MessageDelta {
	m := *evt.Message
	if m.User == nil {
		m.User = evt.User
	}
	if m.Member == nil {
		m.Member = evt.Member
	}
	if m.ChannelID == "" {
		m.ChannelID = evt.ChannelID()
	}
	if m.GuildID == "" {
		m.GuildID = evt.GuildID()
	}
	fallback := evt.Timestamp
	if fallback.IsZero() {
		fallback = in.now()
	}
	return messageDelta(evt.Platform, m.ChannelID, m, fallback)
}

func (in *Ingestor) applyUpdated(ctx context.Context, evt bots.Event) error {
	m := evt.Message
	channelID := evt.ChannelID()
	at := m.UpdatedAt
	if at.IsZero() {
		at = evt.Timestamp
	}
	content := m.Content
	_, err := in.gate.Patch(ctx,
		Filter{Platform: evt.Platform, ChannelID: channelID, MessageID: m.ID},
		Patch{Content: &content, UpdatedAt: at, Edited: true},
		Key{Platform: evt.Platform, ChannelID: channelID, MessageID: m.ID},
	)
	return err
}

// applyDeleted matches on platform and message id only; delete notifications
// do not reliably carry the channel.
func (in *Ingestor) applyDeleted(ctx context.Context, evt bots.Event) error {
	m := evt.Message
	_, err := in.gate.Patch(ctx,
		Filter{Platform: evt.Platform, MessageID: m.ID},
		Patch{UpdatedAt: evt.Timestamp, Deleted: true},
		Key{Platform: evt.Platform, ChannelID: evt.ChannelID(), MessageID: m.ID},
	)
	return err
}

// messageDelta builds a full create-shaped delta. Creation time falls back
// to the delivery timestamp and then to fallback; a missing update time
// means the message was never edited.
func messageDelta(platform, channelID string, m bots.Message, fallback time.Time) MessageDelta {
	created := m.Created()
	if created.IsZero() {
		created = fallback
	}
	updated := m.UpdatedAt
	edited := !updated.IsZero() && !updated.Equal(created)
	if updated.IsZero() {
		updated = created
	}

	d := MessageDelta{
		Key:       Key{Platform: platform, ChannelID: channelID, MessageID: m.ID},
		Content:   ptr(m.Content),
		CreatedAt: ptr(created.UTC()),
		UpdatedAt: updated.UTC(),
		Edited:    ptr(edited),
		Author:    authorOf(m.User, m.Member),
	}
	if m.GuildID != "" {
		d.GuildID = ptr(m.GuildID)
	}
	if m.QuoteID != "" {
		d.QuoteID = ptr(m.QuoteID)
	}
	return d
}

// authorOf snapshots the sender. Member scoped nick and avatar win over the
// global profile.
func authorOf(u *bots.User, mem *bots.Member) *Author {
	if u == nil {
		return nil
	}
	a := &Author{ID: u.ID, Name: u.Name, Nick: u.Nick, Avatar: u.Avatar, IsBot: u.IsBot}
	if mem != nil {
		if mem.Nick != "" {
			a.Nick = mem.Nick
		}
		if mem.Avatar != "" {
			a.Avatar = mem.Avatar
		}
	}
	return a
}
