// Package slack adapts a Slack app (Web API plus Socket Mode) to
// bots.Connection. The workspace is exposed as the single guild.
package slack

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"kaenbyou/cmd/internal/bots"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const (
	Platform = "slack"

	historyLimit      = 100
	conversationLimit = 200
)

//go:embed schema.json
var configSchema []byte

var conversationTypes = []string{"public_channel", "private_channel", "mpim", "im"}

type Config struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

func Factory() bots.Factory {
	return bots.Factory{Platform: Platform, Schema: configSchema, New: New}
}

type Conn struct {
	*bots.Base
	log *slog.Logger
	api *slack.Client
	sm  *socketmode.Client

	mu     sync.Mutex
	team   bots.Guild
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger, raw json.RawMessage) (bots.Connection, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Conn{
		Base: bots.NewBase(Platform,
			bots.CapGuildList, bots.CapChannelList, bots.CapMessageList, bots.CapMessageCreate),
		log: log,
		api: api,
		sm:  socketmode.New(api),
	}, nil
}

// Start identifies the bot, then runs the socket and its event loop in the
// background until Stop.
func (c *Conn) Start(ctx context.Context, emit bots.EmitFunc) error {
	c.Bind(emit)
	c.SetStatus(bots.StatusConnect)

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		c.SetStatus(bots.StatusOffline)
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.SetUser(bots.User{ID: auth.UserID, Name: auth.User, IsBot: true})

	team := bots.Guild{ID: auth.TeamID, Name: auth.Team}
	if info, err := c.api.GetTeamInfoContext(ctx); err == nil {
		team.Name = info.Name
		if icon, ok := info.Icon["image_132"].(string); ok {
			team.Avatar = icon
		}
	} else {
		c.log.Warn("slack.team_info.fail", "team_id", auth.TeamID, "err", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.mu.Lock()
	c.team = team
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.loop(runCtx)
	go func() {
		defer close(done)
		if err := c.sm.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			c.log.Warn("slack.socket.fail", "err", err)
		}
		c.SetStatus(bots.StatusOffline)
	}()
	return nil
}

func (c *Conn) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.SetStatus(bots.StatusOffline)
	return nil
}

func (c *Conn) teamGuild() bots.Guild {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.team
}

func (c *Conn) ListGuilds(context.Context) iter.Seq2[bots.Guild, error] {
	return func(yield func(bots.Guild, error) bool) {
		if g := c.teamGuild(); g.ID != "" {
			yield(g, nil)
		}
	}
}

// ListChannels lists every conversation the bot is a member of. The guild
// id is ignored: a Slack app only sees its own workspace.
func (c *Conn) ListChannels(ctx context.Context, _ string) iter.Seq2[bots.Channel, error] {
	return func(yield func(bots.Channel, error) bool) {
		cursor := ""
		for {
			chs, next, err := c.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
				Cursor:          cursor,
				Types:           conversationTypes,
				Limit:           conversationLimit,
				ExcludeArchived: true,
			})
			if err != nil {
				yield(bots.Channel{}, err)
				return
			}
			for _, ch := range chs {
				if !yield(channelOf(ch), nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

func (c *Conn) ListMessageHistory(ctx context.Context, channelID, cursor string) (bots.MessagePage, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Cursor:    cursor,
		Limit:     historyLimit,
	})
	if err != nil {
		return bots.MessagePage{}, err
	}
	team := c.teamGuild().ID
	page := bots.MessagePage{Items: make([]bots.Message, 0, len(resp.Messages))}
	for _, m := range resp.Messages {
		page.Items = append(page.Items, historyMessage(channelID, team, m.Msg))
	}
	if resp.HasMore {
		page.Next = resp.ResponseMetaData.NextCursor
	}
	return page, nil
}

func (c *Conn) SendMessage(ctx context.Context, channelID, content string) ([]bots.Message, error) {
	ch, ts, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(content, false))
	if err != nil {
		return nil, err
	}
	m := bots.Message{ID: ts, ChannelID: ch, GuildID: c.teamGuild().ID, Content: content, CreatedAt: tsTime(ts)}
	if self := c.Login().User; self != nil {
		m.User = self
	}
	return []bots.Message{m}, nil
}

// loop consumes Socket Mode events: connection state changes and message
// events from the Events API, acknowledged before they are emitted.
func (c *Conn) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sm.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				c.SetStatus(bots.StatusConnect)
			case socketmode.EventTypeConnected:
				c.SetStatus(bots.StatusOnline)
			case socketmode.EventTypeDisconnect, socketmode.EventTypeConnectionError:
				c.SetStatus(bots.StatusReconnect)
			case socketmode.EventTypeEventsAPI:
				if evt.Request == nil {
					continue
				}
				c.sm.Ack(*evt.Request)
				c.onPayload(evt.Request.Payload)
			}
		}
	}
}

func (c *Conn) onPayload(payload json.RawMessage) {
	var cb callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		c.log.Warn("slack.event.invalid", "err", err)
		return
	}
	if cb.Event.Type != "message" {
		return
	}
	if evt, ok := messageEvent(cb.TeamID, cb.Event); ok {
		c.Emit(evt)
	}
}
