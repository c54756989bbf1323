package telegram

import (
	"strconv"
	"strings"
	"time"

	"kaenbyou/cmd/internal/bots"

	"github.com/mymmrac/telego"
)

func chatID(id int64) string { return strconv.FormatInt(id, 10) }

func userOf(u telego.User) bots.User {
	return bots.User{
		ID:    chatID(u.ID),
		Name:  u.Username,
		Nick:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		IsBot: u.IsBot,
	}
}

func isDirect(chat telego.Chat) bool { return chat.Type == "private" }

func chatName(chat telego.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if n := strings.TrimSpace(chat.FirstName + " " + chat.LastName); n != "" {
		return n
	}
	return chat.Username
}

// channelOf maps a chat onto a channel. Groups are also their own guild, so
// they carry no parent.
func channelOf(chat telego.Chat) bots.Channel {
	ch := bots.Channel{ID: chatID(chat.ID), Name: chatName(chat), Type: bots.ChannelText}
	if isDirect(chat) {
		ch.Type = bots.ChannelDirect
	}
	return ch
}

func guildOf(chat telego.Chat) *bots.Guild {
	if isDirect(chat) {
		return nil
	}
	return &bots.Guild{ID: chatID(chat.ID), Name: chatName(chat)}
}

func messageOf(m telego.Message) bots.Message {
	out := bots.Message{
		ID:        strconv.Itoa(m.MessageID),
		ChannelID: chatID(m.Chat.ID),
		Content:   m.Text,
		CreatedAt: time.Unix(m.Date, 0).UTC(),
	}
	if out.Content == "" {
		out.Content = m.Caption
	}
	if g := guildOf(m.Chat); g != nil {
		out.GuildID = g.ID
	}
	if m.EditDate != 0 {
		out.UpdatedAt = time.Unix(m.EditDate, 0).UTC()
	}
	if m.ReplyToMessage != nil {
		out.QuoteID = strconv.Itoa(m.ReplyToMessage.MessageID)
	}
	if m.From != nil {
		u := userOf(*m.From)
		out.User = &u
	}
	return out
}

func messageEvent(kind bots.EventKind, m telego.Message) bots.Event {
	msg := messageOf(m)
	ch := channelOf(m.Chat)
	return bots.Event{
		Kind:    kind,
		Guild:   guildOf(m.Chat),
		Channel: &ch,
		Message: &msg,
		User:    msg.User,
	}
}

// joinedEvent reports the bot being added to a group chat as guild-added.
func joinedEvent(u telego.ChatMemberUpdated) (bots.Event, bool) {
	if isDirect(u.Chat) || u.NewChatMember == nil {
		return bots.Event{}, false
	}
	switch u.NewChatMember.MemberStatus() {
	case "member", "administrator", "creator":
	default:
		return bots.Event{}, false
	}
	if u.OldChatMember != nil {
		switch u.OldChatMember.MemberStatus() {
		case "member", "administrator", "creator":
			return bots.Event{}, false
		}
	}
	return bots.Event{Kind: bots.EventGuildAdded, Guild: guildOf(u.Chat)}, true
}
