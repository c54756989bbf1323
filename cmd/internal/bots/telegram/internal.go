package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"kaenbyou/cmd/internal/bots"

	"github.com/mymmrac/telego"
)

type internalMethod func(ctx context.Context, c *Conn, args json.RawMessage) (any, error)

var internalMethods = map[string]internalMethod{
	"getme": func(ctx context.Context, c *Conn, _ json.RawMessage) (any, error) {
		return c.bot.GetMe(ctx)
	},
	"getchat": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		chat, err := chatArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: chat})
	},
	"getchatmember": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		chat, err := chatArg(args, 0)
		if err != nil {
			return nil, err
		}
		raw, err := bots.StringArg(args, 1)
		if err != nil {
			return nil, err
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: user id %q", bots.ErrBadArguments, raw)
		}
		return c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{ChatID: chat, UserID: userID})
	},
}

// chatArg accepts a numeric chat id or an @username.
func chatArg(args json.RawMessage, i int) (telego.ChatID, error) {
	raw, err := bots.StringArg(args, i)
	if err != nil {
		return telego.ChatID{}, err
	}
	if strings.HasPrefix(raw, "@") {
		return telego.ChatID{Username: raw}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("%w: chat id %q", bots.ErrBadArguments, raw)
	}
	return telego.ChatID{ID: id}, nil
}

func (c *Conn) Internal(ctx context.Context, name string, args json.RawMessage) (any, error) {
	m, ok := internalMethods[bots.MethodName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bots.ErrUnknownMethod, name)
	}
	return m(ctx, c, args)
}
