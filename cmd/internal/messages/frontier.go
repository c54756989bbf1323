package messages

import (
	"context"
	"fmt"
	"log/slog"

	"kaenbyou/cmd/internal/bots"

	"golang.org/x/sync/errgroup"
)

const resolveGuildConcurrency = 4

// Resolver derives backfill tasks from what the store already holds. The
// store is the durable bookmark: a task's frontier is the newest stored
// message of its channel.
type Resolver struct {
	log   *slog.Logger
	store Store
}

func NewResolver(log *slog.Logger, store Store) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, store: store}
}

// CanBackfill reports whether conn exposes what frontier resolution needs.
func CanBackfill(conn bots.Connection) bool {
	return conn.Supports(bots.CapGuildList) && conn.Supports(bots.CapMessageList)
}

// Resolve lists the guilds of conn and returns tasks for all of them, in
// guild listing order. Connections lacking the capabilities yield nothing.
func (r *Resolver) Resolve(ctx context.Context, conn bots.Connection) ([]*Task, error) {
	if !CanBackfill(conn) {
		r.log.Debug("frontier.skip.capabilities", "platform", conn.Platform(), "self_id", conn.SelfID())
		return nil, nil
	}

	guilds, err := bots.Collect(conn.ListGuilds(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}

	perGuild := make([][]*Task, len(guilds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveGuildConcurrency)
	for i, guild := range guilds {
		g.Go(func() error {
			tasks, err := r.ResolveGuild(gctx, conn, guild.ID)
			if err != nil {
				return fmt.Errorf("guild %s: %w", guild.ID, err)
			}
			perGuild[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*Task
	for _, ts := range perGuild {
		out = append(out, ts...)
	}
	return out, nil
}

// ResolveGuild returns one task per stored channel of the guild, plus a
// full-history task for each listed channel that has no stored rows.
func (r *Resolver) ResolveGuild(ctx context.Context, conn bots.Connection, guildID string) ([]*Task, error) {
	if !CanBackfill(conn) {
		return nil, nil
	}
	platform, selfID := conn.Platform(), conn.SelfID()

	frontiers, err := r.store.LatestByChannel(ctx, LatestQuery{Platform: platform, GuildID: &guildID})
	if err != nil {
		return nil, fmt.Errorf("latest by channel: %w", err)
	}

	known := make(map[string]struct{}, len(frontiers))
	tasks := make([]*Task, 0, len(frontiers))
	for _, f := range frontiers {
		known[f.ChannelID] = struct{}{}
		tasks = append(tasks, &Task{
			Platform:  platform,
			SelfID:    selfID,
			GuildID:   guildID,
			ChannelID: f.ChannelID,
			Frontier:  f.MessageID,
		})
	}

	if !conn.Supports(bots.CapChannelList) {
		return tasks, nil
	}
	for ch, err := range conn.ListChannels(ctx, guildID) {
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		if !ch.Type.HoldsMessages() {
			continue
		}
		if _, ok := known[ch.ID]; ok {
			continue
		}
		known[ch.ID] = struct{}{}
		tasks = append(tasks, &Task{
			Platform:  platform,
			SelfID:    selfID,
			GuildID:   guildID,
			ChannelID: ch.ID,
		})
	}
	return tasks, nil
}
