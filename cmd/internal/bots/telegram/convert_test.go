package telegram

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"kaenbyou/cmd/internal/bots"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = "123456789:" + strings.Repeat("A", 35)

func TestMessageOfGroup(t *testing.T) {
	m := telego.Message{
		MessageID:      42,
		Date:           1700000000,
		EditDate:       1700000060,
		Chat:           telego.Chat{ID: -1001, Type: "supergroup", Title: "ops"},
		From:           &telego.User{ID: 7, Username: "alice", FirstName: "Alice", LastName: "Liddell"},
		Text:           "hello",
		ReplyToMessage: &telego.Message{MessageID: 41},
	}

	evt := messageEvent(bots.EventMessageUpdated, m)
	assert.Equal(t, "-1001", evt.ChannelID())
	assert.Equal(t, "-1001", evt.GuildID())
	assert.Equal(t, "ops", evt.Guild.Name)
	require.NotNil(t, evt.Message)
	assert.Equal(t, "42", evt.Message.ID)
	assert.Equal(t, "41", evt.Message.QuoteID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), evt.Message.Created())
	assert.Equal(t, time.Unix(1700000060, 0).UTC(), evt.Message.UpdatedAt)
	require.NotNil(t, evt.User)
	assert.Equal(t, bots.User{ID: "7", Name: "alice", Nick: "Alice Liddell"}, *evt.User)
}

func TestMessageOfPrivate(t *testing.T) {
	m := telego.Message{
		MessageID: 1,
		Date:      1700000000,
		Chat:      telego.Chat{ID: 7, Type: "private", FirstName: "Alice"},
		Caption:   "photo",
	}
	evt := messageEvent(bots.EventMessageCreated, m)
	assert.Nil(t, evt.Guild)
	assert.Equal(t, bots.ChannelDirect, evt.Channel.Type)
	assert.Equal(t, "Alice", evt.Channel.Name)
	assert.Equal(t, "photo", evt.Message.Content)
	assert.Nil(t, evt.User)
}

func TestJoinedEvent(t *testing.T) {
	group := telego.Chat{ID: -5, Type: "group", Title: "team"}

	evt, ok := joinedEvent(telego.ChatMemberUpdated{
		Chat:          group,
		OldChatMember: &telego.ChatMemberLeft{Status: "left"},
		NewChatMember: &telego.ChatMemberMember{Status: "member"},
	})
	require.True(t, ok)
	assert.Equal(t, bots.EventGuildAdded, evt.Kind)
	assert.Equal(t, "-5", evt.Guild.ID)

	_, ok = joinedEvent(telego.ChatMemberUpdated{
		Chat:          group,
		OldChatMember: &telego.ChatMemberMember{Status: "member"},
		NewChatMember: &telego.ChatMemberAdministrator{Status: "administrator"},
	})
	assert.False(t, ok, "promotion is not a join")

	_, ok = joinedEvent(telego.ChatMemberUpdated{
		Chat:          group,
		NewChatMember: &telego.ChatMemberLeft{Status: "left"},
	})
	assert.False(t, ok)

	_, ok = joinedEvent(telego.ChatMemberUpdated{
		Chat:          telego.Chat{ID: 7, Type: "private"},
		NewChatMember: &telego.ChatMemberMember{Status: "member"},
	})
	assert.False(t, ok)
}

func TestNewConnection(t *testing.T) {
	_, err := New(nil, json.RawMessage(`{"token":"bad"}`))
	assert.Error(t, err)

	conn, err := New(nil, json.RawMessage(`{"token":"`+testToken+`"}`))
	require.NoError(t, err)
	assert.Equal(t, Platform, conn.Platform())
	assert.True(t, conn.Supports(bots.CapMessageCreate))
	assert.False(t, conn.Supports(bots.CapMessageList))
	assert.Equal(t, defaultPollTimeout, conn.(*Conn).pollTimeout)

	_, err = conn.SendMessage(t.Context(), "not-a-chat", "hi")
	assert.Error(t, err)
}

func TestOnUpdateEmits(t *testing.T) {
	raw, err := New(nil, json.RawMessage(`{"token":"`+testToken+`","poll_timeout":5}`))
	require.NoError(t, err)
	c := raw.(*Conn)

	var got []bots.Event
	c.Bind(func(e bots.Event) { got = append(got, e) })

	chat := telego.Chat{ID: -9, Type: "channel", Title: "news"}
	c.onUpdate(telego.Update{UpdateID: 1, ChannelPost: &telego.Message{MessageID: 1, Chat: chat, Date: 1}})
	c.onUpdate(telego.Update{UpdateID: 2, EditedChannelPost: &telego.Message{MessageID: 1, Chat: chat, Date: 1, EditDate: 2}})
	c.onUpdate(telego.Update{UpdateID: 3})

	require.Len(t, got, 2)
	assert.Equal(t, bots.EventMessageCreated, got[0].Kind)
	assert.Equal(t, bots.EventMessageUpdated, got[1].Kind)
	assert.Equal(t, Platform, got[0].Platform)
}
