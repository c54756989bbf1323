package slack

import (
	"context"
	"encoding/json"
	"fmt"

	"kaenbyou/cmd/internal/bots"

	"github.com/slack-go/slack"
)

type internalMethod func(ctx context.Context, c *Conn, args json.RawMessage) (any, error)

// internalMethods follow the Web API method names: conversations.info is
// reachable as conversationsInfo or conversations_info.
var internalMethods = map[string]internalMethod{
	"conversationsinfo": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		id, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: id})
	},
	"usersinfo": func(ctx context.Context, c *Conn, args json.RawMessage) (any, error) {
		id, err := bots.StringArg(args, 0)
		if err != nil {
			return nil, err
		}
		return c.api.GetUserInfoContext(ctx, id)
	},
	"teaminfo": func(ctx context.Context, c *Conn, _ json.RawMessage) (any, error) {
		return c.api.GetTeamInfoContext(ctx)
	},
}

func (c *Conn) Internal(ctx context.Context, name string, args json.RawMessage) (any, error) {
	m, ok := internalMethods[bots.MethodName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bots.ErrUnknownMethod, name)
	}
	return m(ctx, c, args)
}
