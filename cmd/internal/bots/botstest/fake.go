// Package botstest provides an in-process bots.Connection for tests.
package botstest

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"sync"

	"kaenbyou/cmd/internal/bots"
)

// Fetch records one history request.
type Fetch struct {
	ChannelID string
	Cursor    string
}

// Conn is a scriptable connection. Configure the exported fields before
// Start; they are read under the connection lock afterwards.
type Conn struct {
	*bots.Base

	mu       sync.Mutex
	Guilds   []bots.Guild
	Channels map[string][]bots.Channel
	History  func(channelID, cursor string) (bots.MessagePage, error)
	methods  map[string]func(args json.RawMessage) (any, error)
	fetches  []Fetch
	sent     []bots.Message
	stopped  bool
}

// New builds a connection that supports every capability.
func New(platform, selfID string) *Conn {
	return NewWithCaps(platform, selfID,
		bots.CapGuildList, bots.CapChannelList, bots.CapMessageList, bots.CapMessageCreate)
}

func NewWithCaps(platform, selfID string, caps ...bots.Capability) *Conn {
	c := &Conn{
		Base:     bots.NewBase(platform, caps...),
		Channels: make(map[string][]bots.Channel),
	}
	c.SetUser(bots.User{ID: selfID, Name: selfID, IsBot: true})
	return c
}

func (c *Conn) Start(_ context.Context, emit bots.EmitFunc) error {
	c.Bind(emit)
	return nil
}

func (c *Conn) Stop(context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.SetStatus(bots.StatusOffline)
	return nil
}

func (c *Conn) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Conn) GoOnline()  { c.SetStatus(bots.StatusOnline) }
func (c *Conn) GoOffline() { c.SetStatus(bots.StatusOffline) }

func (c *Conn) SetGuilds(gs ...bots.Guild) {
	c.mu.Lock()
	c.Guilds = gs
	c.mu.Unlock()
}

func (c *Conn) SetChannels(guildID string, chs ...bots.Channel) {
	c.mu.Lock()
	c.Channels[guildID] = chs
	c.mu.Unlock()
}

func (c *Conn) SetHistory(fn func(channelID, cursor string) (bots.MessagePage, error)) {
	c.mu.Lock()
	c.History = fn
	c.mu.Unlock()
}

func (c *Conn) ListGuilds(ctx context.Context) iter.Seq2[bots.Guild, error] {
	if !c.Supports(bots.CapGuildList) {
		return c.Base.ListGuilds(ctx)
	}
	c.mu.Lock()
	gs := append([]bots.Guild(nil), c.Guilds...)
	c.mu.Unlock()
	return func(yield func(bots.Guild, error) bool) {
		for _, g := range gs {
			if !yield(g, nil) {
				return
			}
		}
	}
}

func (c *Conn) ListChannels(ctx context.Context, guildID string) iter.Seq2[bots.Channel, error] {
	if !c.Supports(bots.CapChannelList) {
		return c.Base.ListChannels(ctx, guildID)
	}
	c.mu.Lock()
	chs := append([]bots.Channel(nil), c.Channels[guildID]...)
	c.mu.Unlock()
	return func(yield func(bots.Channel, error) bool) {
		for _, ch := range chs {
			if !yield(ch, nil) {
				return
			}
		}
	}
}

func (c *Conn) ListMessageHistory(ctx context.Context, channelID, cursor string) (bots.MessagePage, error) {
	if !c.Supports(bots.CapMessageList) {
		return bots.MessagePage{}, bots.ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return bots.MessagePage{}, err
	}
	c.mu.Lock()
	c.fetches = append(c.fetches, Fetch{ChannelID: channelID, Cursor: cursor})
	fn := c.History
	c.mu.Unlock()
	if fn == nil {
		return bots.MessagePage{}, nil
	}
	return fn(channelID, cursor)
}

func (c *Conn) SendMessage(_ context.Context, channelID, content string) ([]bots.Message, error) {
	if !c.Supports(bots.CapMessageCreate) {
		return nil, bots.ErrUnsupported
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := bots.Message{ID: "sent-" + strconv.Itoa(len(c.sent)+1), ChannelID: channelID, Content: content}
	c.sent = append(c.sent, m)
	return []bots.Message{m}, nil
}

// SetInternal scripts an internal method. Names are folded with
// bots.MethodName like the real adapters do.
func (c *Conn) SetInternal(name string, fn func(args json.RawMessage) (any, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.methods == nil {
		c.methods = make(map[string]func(json.RawMessage) (any, error))
	}
	c.methods[bots.MethodName(name)] = fn
}

func (c *Conn) Internal(_ context.Context, name string, args json.RawMessage) (any, error) {
	c.mu.Lock()
	fn, ok := c.methods[bots.MethodName(name)]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", bots.ErrUnknownMethod, name)
	}
	return fn(args)
}

// Fetches returns the recorded history requests in call order.
func (c *Conn) Fetches() []Fetch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fetch(nil), c.fetches...)
}

func (c *Conn) Sent() []bots.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bots.Message(nil), c.sent...)
}

// Paged serves msgs (platform order, newest first) in pages of size, using
// the decimal offset as the continuation cursor.
func Paged(msgs []bots.Message, size int) func(channelID, cursor string) (bots.MessagePage, error) {
	return func(_ string, cursor string) (bots.MessagePage, error) {
		off := 0
		if cursor != "" {
			n, err := strconv.Atoi(cursor)
			if err != nil {
				return bots.MessagePage{}, err
			}
			off = n
		}
		if off >= len(msgs) {
			return bots.MessagePage{}, nil
		}
		end := min(off+size, len(msgs))
		page := bots.MessagePage{Items: append([]bots.Message(nil), msgs[off:end]...)}
		if end < len(msgs) {
			page.Next = strconv.Itoa(end)
		}
		return page, nil
	}
}
