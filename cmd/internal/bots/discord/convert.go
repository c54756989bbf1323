package discord

import (
	"kaenbyou/cmd/internal/bots"

	"github.com/bwmarrin/discordgo"
)

func userOf(u *discordgo.User) bots.User {
	out := bots.User{ID: u.ID, Name: u.Username, Nick: u.GlobalName, IsBot: u.Bot}
	if u.Avatar != "" {
		out.Avatar = u.AvatarURL("")
	}
	return out
}

func guildOf(id, name, icon string) bots.Guild {
	g := bots.Guild{ID: id, Name: name}
	if icon != "" {
		g.Avatar = discordgo.EndpointGuildIcon(id, icon)
	}
	return g
}

func channelOf(ch *discordgo.Channel) bots.Channel {
	return bots.Channel{ID: ch.ID, Name: ch.Name, Type: channelType(ch.Type), ParentID: ch.ParentID}
}

func channelType(t discordgo.ChannelType) bots.ChannelType {
	switch t {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return bots.ChannelDirect
	case discordgo.ChannelTypeGuildCategory:
		return bots.ChannelCategory
	case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return bots.ChannelVoice
	default:
		return bots.ChannelText
	}
}

func messageOf(m *discordgo.Message) bots.Message {
	out := bots.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.EditedTimestamp != nil {
		out.UpdatedAt = *m.EditedTimestamp
	}
	if ref := m.MessageReference; ref != nil {
		out.QuoteID = ref.MessageID
	}
	if m.Author != nil {
		u := userOf(m.Author)
		out.User = &u
	}
	if m.Member != nil && m.Member.Nick != "" {
		out.Member = &bots.Member{Nick: m.Member.Nick}
	}
	return out
}

func messageEvent(kind bots.EventKind, m *discordgo.Message) bots.Event {
	msg := messageOf(m)
	evt := bots.Event{
		Kind:    kind,
		Channel: &bots.Channel{ID: m.ChannelID},
		Message: &msg,
		User:    msg.User,
		Member:  msg.Member,
	}
	if m.GuildID != "" {
		evt.Guild = &bots.Guild{ID: m.GuildID}
	}
	return evt
}

// historyPage wraps one ChannelMessages response. A short page is the last
// one; otherwise the oldest id continues the walk.
func historyPage(msgs []*discordgo.Message, limit int) bots.MessagePage {
	page := bots.MessagePage{Items: make([]bots.Message, 0, len(msgs))}
	for _, m := range msgs {
		page.Items = append(page.Items, messageOf(m))
	}
	if len(msgs) >= limit && len(msgs) > 0 {
		page.Next = msgs[len(msgs)-1].ID
	}
	return page
}
