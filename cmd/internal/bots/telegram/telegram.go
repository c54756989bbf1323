// Package telegram adapts a Telegram bot (Bot API long polling) to
// bots.Connection. The Bot API exposes no history or chat listing, so the
// adapter only delivers live messages and sends.
package telegram

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"kaenbyou/cmd/internal/bots"

	"github.com/mymmrac/telego"
)

const (
	Platform = "telegram"

	defaultPollTimeout = 30
)

//go:embed schema.json
var configSchema []byte

var allowedUpdates = []string{
	"message", "edited_message", "channel_post", "edited_channel_post", "my_chat_member",
}

type Config struct {
	Token string `json:"token"`
	// PollTimeout is the getUpdates long poll in seconds.
	PollTimeout int `json:"poll_timeout"`
}

func Factory() bots.Factory {
	return bots.Factory{Platform: Platform, Schema: configSchema, New: New}
}

type Conn struct {
	*bots.Base
	log         *slog.Logger
	bot         *telego.Bot
	pollTimeout int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger, raw json.RawMessage) (bots.Connection, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		Base:        bots.NewBase(Platform, bots.CapMessageCreate),
		log:         log,
		bot:         bot,
		pollTimeout: cfg.PollTimeout,
	}, nil
}

func (c *Conn) Start(ctx context.Context, emit bots.EmitFunc) error {
	c.Bind(emit)
	c.SetStatus(bots.StatusConnect)

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		c.SetStatus(bots.StatusOffline)
		return fmt.Errorf("telegram: get me: %w", err)
	}
	c.SetUser(userOf(*me))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, err := c.bot.UpdatesViaLongPolling(runCtx, &telego.GetUpdatesParams{
		Timeout:        c.pollTimeout,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		cancel()
		c.SetStatus(bots.StatusOffline)
		return fmt.Errorf("telegram: long polling: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.SetStatus(bots.StatusOnline)
	go func() {
		defer close(done)
		for u := range updates {
			c.onUpdate(u)
		}
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

func (c *Conn) SendMessage(ctx context.Context, channelID, content string) ([]bots.Message, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: chat id %q: %w", channelID, err)
	}
	m, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   content,
	})
	if err != nil {
		return nil, err
	}
	return []bots.Message{messageOf(*m)}, nil
}

func (c *Conn) onUpdate(u telego.Update) {
	switch {
	case u.Message != nil:
		c.Emit(messageEvent(bots.EventMessageCreated, *u.Message))
	case u.ChannelPost != nil:
		c.Emit(messageEvent(bots.EventMessageCreated, *u.ChannelPost))
	case u.EditedMessage != nil:
		c.Emit(messageEvent(bots.EventMessageUpdated, *u.EditedMessage))
	case u.EditedChannelPost != nil:
		c.Emit(messageEvent(bots.EventMessageUpdated, *u.EditedChannelPost))
	case u.MyChatMember != nil:
		if evt, ok := joinedEvent(*u.MyChatMember); ok {
			c.Emit(evt)
		}
	default:
		c.log.Debug("telegram.update.skip", "update_id", u.UpdateID)
	}
}
