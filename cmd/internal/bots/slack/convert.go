package slack

import (
	"strconv"
	"strings"
	"time"

	"kaenbyou/cmd/internal/bots"

	"github.com/slack-go/slack"
)

// callback is the Events API envelope carried in a Socket Mode payload.
type callback struct {
	TeamID string       `json:"team_id"`
	Event  eventPayload `json:"event"`
}

// eventPayload is the subset of a "message" event the adapter reads. The
// nested message and previous_message are present for the changed subtype.
type eventPayload struct {
	Type            string     `json:"type"`
	SubType         string     `json:"subtype"`
	Channel         string     `json:"channel"`
	ChannelType     string     `json:"channel_type"`
	User            string     `json:"user"`
	BotID           string     `json:"bot_id"`
	Username        string     `json:"username"`
	Text            string     `json:"text"`
	TS              string     `json:"ts"`
	EventTS         string     `json:"event_ts"`
	DeletedTS       string     `json:"deleted_ts"`
	ThreadTS        string     `json:"thread_ts"`
	Message         *nestedMsg `json:"message"`
	PreviousMessage *nestedMsg `json:"previous_message"`
}

type nestedMsg struct {
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Edited   *struct {
		TS string `json:"ts"`
	} `json:"edited"`
}

// Message subtypes that carry no user visible content change.
var ignoredSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
}

// messageEvent maps a Slack message event onto a bots event. Ordinary
// messages become created; the changed and deleted subtypes become updated
// and deleted.
func messageEvent(teamID string, e eventPayload) (bots.Event, bool) {
	if e.Channel == "" || ignoredSubtypes[e.SubType] {
		return bots.Event{}, false
	}
	guild := guildFor(teamID, e.ChannelType)

	var (
		kind bots.EventKind
		msg  bots.Message
	)
	switch e.SubType {
	case "message_changed":
		if e.Message == nil {
			return bots.Event{}, false
		}
		kind = bots.EventMessageUpdated
		msg = nestedMessage(e.Channel, guild, *e.Message)
		msg.UpdatedAt = tsTime(e.EventTS)
		if ed := e.Message.Edited; ed != nil && ed.TS != "" {
			msg.UpdatedAt = tsTime(ed.TS)
		}
	case "message_deleted":
		id := e.DeletedTS
		if id == "" && e.PreviousMessage != nil {
			id = e.PreviousMessage.TS
		}
		if id == "" {
			return bots.Event{}, false
		}
		kind = bots.EventMessageDeleted
		msg = bots.Message{ID: id, ChannelID: e.Channel, GuildID: guild}
	default:
		if e.TS == "" {
			return bots.Event{}, false
		}
		kind = bots.EventMessageCreated
		msg = nestedMessage(e.Channel, guild, nestedMsg{
			User: e.User, BotID: e.BotID, Username: e.Username, Text: e.Text, TS: e.TS, ThreadTS: e.ThreadTS,
		})
	}

	evt := bots.Event{
		Kind:    kind,
		Channel: &bots.Channel{ID: e.Channel, Type: channelTypeOf(e.ChannelType)},
		Message: &msg,
		User:    msg.User,
	}
	if ts := tsTime(e.EventTS); !ts.IsZero() {
		evt.Timestamp = ts
	}
	if guild != "" {
		evt.Guild = &bots.Guild{ID: guild}
	}
	return evt, true
}

func nestedMessage(channelID, guildID string, m nestedMsg) bots.Message {
	out := bots.Message{
		ID:        m.TS,
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   m.Text,
		CreatedAt: tsTime(m.TS),
	}
	if m.ThreadTS != "" && m.ThreadTS != m.TS {
		out.QuoteID = m.ThreadTS
	}
	if u := author(m.User, m.BotID, m.Username); u != nil {
		out.User = u
	}
	return out
}

func historyMessage(channelID, guildID string, m slack.Msg) bots.Message {
	out := nestedMessage(channelID, guildID, nestedMsg{
		User: m.User, BotID: m.BotID, Username: m.Username, Text: m.Text, TS: m.Timestamp, ThreadTS: m.ThreadTimestamp,
	})
	if m.Edited != nil {
		out.UpdatedAt = tsTime(m.Edited.Timestamp)
	}
	return out
}

func author(userID, botID, username string) *bots.User {
	switch {
	case userID != "":
		return &bots.User{ID: userID, Name: username, IsBot: botID != ""}
	case botID != "":
		return &bots.User{ID: botID, Name: username, IsBot: true}
	default:
		return nil
	}
}

// guildFor scopes workspace conversations to the team. Direct messages have
// no guild.
func guildFor(teamID, channelType string) string {
	if channelType == "im" || channelType == "mpim" {
		return ""
	}
	return teamID
}

func channelTypeOf(channelType string) bots.ChannelType {
	if channelType == "im" || channelType == "mpim" {
		return bots.ChannelDirect
	}
	return bots.ChannelText
}

func channelOf(ch slack.Channel) bots.Channel {
	out := bots.Channel{ID: ch.ID, Name: ch.Name, Type: bots.ChannelText}
	if ch.IsIM || ch.IsMpIM {
		out.Type = bots.ChannelDirect
		if out.Name == "" {
			out.Name = ch.User
		}
	}
	return out
}

// tsTime parses a Slack "seconds.micros" timestamp. Unparseable values
// yield the zero time.
func tsTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		if micros, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}
		}
	}
	return time.Unix(s, micros*int64(time.Microsecond)).UTC()
}
