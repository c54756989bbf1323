package bots

import (
	"context"
	"encoding/json"
	"iter"
)

// EmitFunc receives events from a running connection. Calls for one
// connection are made in platform delivery order from a single goroutine.
type EmitFunc func(Event)

// Connection is one logged-in bot account on one platform.
type Connection interface {
	Platform() string
	SelfID() string
	Status() Status
	Login() Login
	Supports(c Capability) bool

	ListGuilds(ctx context.Context) iter.Seq2[Guild, error]
	ListChannels(ctx context.Context, guildID string) iter.Seq2[Channel, error]
	ListMessageHistory(ctx context.Context, channelID, cursor string) (MessagePage, error)
	SendMessage(ctx context.Context, channelID, content string) ([]Message, error)

	// Internal calls a platform specific method by name. args is a JSON
	// array of positional arguments; the result is encoded as returned.
	Internal(ctx context.Context, name string, args json.RawMessage) (any, error)

	// Start connects and begins emitting events. It returns once the
	// connection attempt is under way; status changes arrive as events.
	Start(ctx context.Context, emit EmitFunc) error
	Stop(ctx context.Context) error
}
