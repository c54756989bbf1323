// Package discord adapts a discordgo session to bots.Connection.
package discord

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"kaenbyou/cmd/internal/bots"

	"github.com/bwmarrin/discordgo"
)

const (
	Platform = "discord"

	// historyLimit is the largest page the messages endpoint serves.
	historyLimit = 100
	guildLimit   = 200
)

//go:embed schema.json
var configSchema []byte

type Config struct {
	Token string `json:"token"`
}

// Factory registers the adapter with a bots.Registry.
func Factory() bots.Factory {
	return bots.Factory{Platform: Platform, Schema: configSchema, New: New}
}

// Conn is one Discord bot account.
type Conn struct {
	*bots.Base
	log     *slog.Logger
	session *discordgo.Session

	mu      sync.Mutex
	known   map[string]struct{}
	removes []func()
}

func New(log *slog.Logger, raw json.RawMessage) (bots.Connection, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("discord: missing token")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	// Handlers must run in gateway order on one goroutine.
	s.SyncEvents = true

	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		Base: bots.NewBase(Platform,
			bots.CapGuildList, bots.CapChannelList, bots.CapMessageList, bots.CapMessageCreate),
		log:     log,
		session: s,
		known:   make(map[string]struct{}),
	}, nil
}

func (c *Conn) Start(_ context.Context, emit bots.EmitFunc) error {
	c.Bind(emit)

	c.mu.Lock()
	c.removes = []func(){
		c.session.AddHandler(c.onReady),
		c.session.AddHandler(c.onResumed),
		c.session.AddHandler(c.onDisconnect),
		c.session.AddHandler(c.onGuildCreate),
		c.session.AddHandler(c.onMessageCreate),
		c.session.AddHandler(c.onMessageUpdate),
		c.session.AddHandler(c.onMessageDelete),
	}
	c.mu.Unlock()

	c.SetStatus(bots.StatusConnect)
	if err := c.session.Open(); err != nil {
		c.SetStatus(bots.StatusOffline)
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

func (c *Conn) Stop(context.Context) error {
	c.mu.Lock()
	for _, rm := range c.removes {
		rm()
	}
	c.removes = nil
	c.mu.Unlock()

	err := c.session.Close()
	c.SetStatus(bots.StatusOffline)
	return err
}

func (c *Conn) ListGuilds(ctx context.Context) iter.Seq2[bots.Guild, error] {
	return func(yield func(bots.Guild, error) bool) {
		after := ""
		for {
			gs, err := c.session.UserGuilds(guildLimit, "", after, false, discordgo.WithContext(ctx))
			if err != nil {
				yield(bots.Guild{}, err)
				return
			}
			for _, g := range gs {
				if !yield(guildOf(g.ID, g.Name, g.Icon), nil) {
					return
				}
			}
			if len(gs) < guildLimit {
				return
			}
			after = gs[len(gs)-1].ID
		}
	}
}

func (c *Conn) ListChannels(ctx context.Context, guildID string) iter.Seq2[bots.Channel, error] {
	return func(yield func(bots.Channel, error) bool) {
		chs, err := c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
		if err != nil {
			yield(bots.Channel{}, err)
			return
		}
		for _, ch := range chs {
			if !yield(channelOf(ch), nil) {
				return
			}
		}
	}
}

// ListMessageHistory pages backwards: the cursor is the id of the oldest
// message already seen.
func (c *Conn) ListMessageHistory(ctx context.Context, channelID, cursor string) (bots.MessagePage, error) {
	msgs, err := c.session.ChannelMessages(channelID, historyLimit, cursor, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return bots.MessagePage{}, err
	}
	return historyPage(msgs, historyLimit), nil
}

func (c *Conn) SendMessage(ctx context.Context, channelID, content string) ([]bots.Message, error) {
	m, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return []bots.Message{messageOf(m)}, nil
}

// ---- gateway events ----

func (c *Conn) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	c.mu.Lock()
	for _, g := range r.Guilds {
		c.known[g.ID] = struct{}{}
	}
	c.mu.Unlock()

	if r.User != nil {
		c.SetUser(userOf(r.User))
	}
	c.SetStatus(bots.StatusOnline)
}

func (c *Conn) onResumed(*discordgo.Session, *discordgo.Resumed) {
	c.SetStatus(bots.StatusOnline)
}

func (c *Conn) onDisconnect(*discordgo.Session, *discordgo.Disconnect) {
	c.SetStatus(bots.StatusReconnect)
}

// onGuildCreate reports guilds joined after Ready. The gateway also sends
// GuildCreate for every guild listed in Ready while it lazily loads them;
// those are not new.
func (c *Conn) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	c.mu.Lock()
	_, seen := c.known[g.ID]
	c.known[g.ID] = struct{}{}
	c.mu.Unlock()
	if seen {
		return
	}
	guild := guildOf(g.ID, g.Name, g.Icon)
	c.Emit(bots.Event{Kind: bots.EventGuildAdded, Guild: &guild})
}

func (c *Conn) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil {
		return
	}
	c.Emit(messageEvent(bots.EventMessageCreated, m.Message))
}

func (c *Conn) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message == nil {
		return
	}
	c.Emit(messageEvent(bots.EventMessageUpdated, m.Message))
}

func (c *Conn) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil {
		return
	}
	c.Emit(messageEvent(bots.EventMessageDeleted, m.Message))
}
