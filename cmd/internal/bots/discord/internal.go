package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"kaenbyou/cmd/internal/bots"

	"github.com/bwmarrin/discordgo"
)

type internalMethod func(ctx context.Context, c *Conn, args json.RawMessage) (any, error)

// internalMethods are keyed by bots.MethodName. Results are the raw REST
// objects.
var internalMethods = map[string]internalMethod{
	"getchannel": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		id, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.session.Channel(id, discordgo.WithContext(ctx))
	},
	"getguild": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		id, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.session.Guild(id, discordgo.WithContext(ctx))
	},
	"getuser": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		id, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.session.User(id, discordgo.WithContext(ctx))
	},
	"getguildmember": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		guildID, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		userID, err := bots.StringArg(args, 1)
		if err != nil {
			return nil, err
		}
		return c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	},
}

func (c *Conn) Internal(ctx context.Context, name string, args json.RawMessage) (any, error) {
	m, ok := internalMethods[bots.MethodName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bots.ErrUnknownMethod, name)
	}
	return m(ctx, c, args)
}
