// Package contacts builds the directory view: guilds and channels visible to
// every online connection, merged with the newest stored message per channel.
package contacts

import (
	"context"
	"log/slog"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/messages"

	"golang.org/x/sync/errgroup"
)

// Type is the directory entry kind. Channel kinds mirror bots.ChannelType.
type Type int

const (
	TypeText Type = iota
	TypeDirect
	TypeCategory
	TypeVoice
	TypeGuild
)

func typeOf(t bots.ChannelType) Type {
	switch t {
	case bots.ChannelDirect:
		return TypeDirect
	case bots.ChannelCategory:
		return TypeCategory
	case bots.ChannelVoice:
		return TypeVoice
	default:
		return TypeText
	}
}

type Contact struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Platform  string   `json:"platform"`
	WhoIsHere []string `json:"who_is_here"`
	Type      Type     `json:"type"`
	Avatar    string   `json:"avatar,omitempty"`
	Parent    string   `json:"parent,omitempty"`
	Children  []string `json:"children,omitempty"`

	CoverUserID   string `json:"cover_user_id,omitempty"`
	CoverUserName string `json:"cover_user_name,omitempty"`
	CoverUserNick string `json:"cover_user_nick,omitempty"`
	CoverMessage  string `json:"cover_message,omitempty"`
	// UpdateTime is the creation time of the newest stored message, unix ms.
	UpdateTime int64 `json:"update_time,omitempty"`
}

// ConnectionLister is the subset of the registry the aggregator reads.
type ConnectionLister interface {
	Connections() []bots.Connection
}

// LatestReader is the subset of the message store the aggregator reads.
type LatestReader interface {
	LatestByChannel(ctx context.Context, q messages.LatestQuery) ([]messages.ChannelFrontier, error)
}

const listConcurrency = 4

type Aggregator struct {
	log   *slog.Logger
	conns ConnectionLister
	store LatestReader
}

func NewAggregator(log *slog.Logger, conns ConnectionLister, store LatestReader) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{log: log, conns: conns, store: store}
}

// guildView is what one connection sees of one guild.
type guildView struct {
	guild    bots.Guild
	channels []bots.Channel
}

type connView struct {
	platform string
	selfID   string
	guilds   []guildView
}

// List returns the directory keyed by "platform:id". Connections that fail
// to list are skipped with a warning; a store failure fails the call.
func (a *Aggregator) List(ctx context.Context) (map[string]*Contact, error) {
	var conns []bots.Connection
	for _, c := range a.conns.Connections() {
		if c.Status() == bots.StatusOnline && c.Supports(bots.CapGuildList) {
			conns = append(conns, c)
		}
	}

	views := make([]connView, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, c := range conns {
		g.Go(func() error {
			views[i] = a.view(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]*Contact)
	for _, v := range views {
		for _, gv := range v.guilds {
			merge(out, v, gv)
		}
	}

	latest, err := a.store.LatestByChannel(ctx, messages.LatestQuery{})
	if err != nil {
		return nil, err
	}
	for _, f := range latest {
		id := key(f.Platform, f.ChannelID)
		c, ok := out[id]
		if !ok {
			c = &Contact{ID: f.ChannelID, Platform: f.Platform, WhoIsHere: []string{}}
			out[id] = c
		}
		c.CoverUserID = f.Author.ID
		c.CoverUserName = f.Author.Name
		c.CoverUserNick = f.Author.Nick
		c.CoverMessage = f.Content
		c.UpdateTime = unixMilli(f.CreatedAt)
	}
	return out, nil
}

func (a *Aggregator) view(ctx context.Context, c bots.Connection) connView {
	v := connView{platform: c.Platform(), selfID: c.SelfID()}
	log := a.log.With("platform", v.platform, "self_id", v.selfID)

	guilds, err := bots.Collect(c.ListGuilds(ctx))
	if err != nil {
		log.Warn("contacts.guilds.fail", "err", err)
		return v
	}
	for _, g := range guilds {
		var chans []bots.Channel
		if c.Supports(bots.CapChannelList) {
			chans, err = bots.Collect(c.ListChannels(ctx, g.ID))
			if err != nil {
				log.Warn("contacts.channels.fail", "guild_id", g.ID, "err", err)
				continue
			}
		}
		v.guilds = append(v.guilds, guildView{guild: g, channels: chans})
	}
	return v
}

func merge(out map[string]*Contact, v connView, gv guildView) {
	g := gv.guild

	// Platforms without guilds expose each conversation as a guild holding
	// one channel of the same id; list it as the channel alone.
	if len(gv.channels) == 1 && gv.channels[0].ID == g.ID {
		ch := gv.channels[0]
		c := ensure(out, v.platform, ch.ID, func() *Contact {
			return &Contact{ID: ch.ID, Name: ch.Name, Platform: v.platform, Type: typeOf(ch.Type), Avatar: g.Avatar}
		})
		c.WhoIsHere = append(c.WhoIsHere, v.selfID)
		return
	}

	children := make(map[string][]string)
	for _, ch := range gv.channels {
		if ch.ParentID != "" {
			children[ch.ParentID] = append(children[ch.ParentID], ch.ID)
		}
	}

	ids := make([]string, 0, len(gv.channels))
	for _, ch := range gv.channels {
		ids = append(ids, ch.ID)
		c := ensure(out, v.platform, ch.ID, func() *Contact {
			parent := ch.ParentID
			if parent == "" {
				parent = g.ID
			}
			return &Contact{
				ID:       ch.ID,
				Name:     ch.Name,
				Platform: v.platform,
				Type:     typeOf(ch.Type),
				Avatar:   g.Avatar,
				Parent:   parent,
				Children: children[ch.ID],
			}
		})
		c.WhoIsHere = append(c.WhoIsHere, v.selfID)
	}

	c := ensure(out, v.platform, g.ID, func() *Contact {
		return &Contact{ID: g.ID, Name: g.Name, Platform: v.platform, Type: TypeGuild, Avatar: g.Avatar, Children: ids}
	})
	c.WhoIsHere = append(c.WhoIsHere, v.selfID)
}

func ensure(out map[string]*Contact, platform, id string, mk func() *Contact) *Contact {
	k := key(platform, id)
	if c, ok := out[k]; ok {
		return c
	}
	c := mk()
	c.WhoIsHere = []string{}
	out[k] = c
	return c
}

func key(platform, id string) string { return platform + ":" + id }

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
