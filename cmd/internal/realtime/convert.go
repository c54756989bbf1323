package realtime

import (
	"kaenbyou/cmd/internal/bots"

	v1 "kaenbyou/shared/contracts/events/v1"
)

// EventBody converts a connection event into its wire form under sequence seq.
func EventBody(seq int64, e bots.Event) v1.Event {
	out := v1.Event{
		ID:       seq,
		Type:     string(e.Kind),
		Platform: e.Platform,
		SelfID:   e.SelfID,
		Guild:    GuildBody(e.Guild),
		Channel:  ChannelBody(e.Channel),
		User:     UserBody(e.User),
		Member:   MemberBody(e.Member, nil),
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UnixMilli()
	}
	if e.Kind == bots.EventLoginUpdated {
		out.Login = &v1.Login{SelfID: e.SelfID, Platform: e.Platform, Status: int(e.Status)}
	}
	if m := e.Message; m != nil {
		out.Message = MessageBody(*m)
		if out.Channel == nil && m.ChannelID != "" {
			out.Channel = &v1.Channel{ID: m.ChannelID}
		}
		if out.Guild == nil && m.GuildID != "" {
			out.Guild = &v1.Guild{ID: m.GuildID}
		}
		if out.User == nil {
			out.User = UserBody(m.User)
		}
	}
	return out
}

func LoginBody(l bots.Login) v1.Login {
	return v1.Login{
		User:     UserBody(l.User),
		SelfID:   l.SelfID,
		Platform: l.Platform,
		Status:   int(l.Status),
	}
}

// MessageBody is the wire form of a platform message.
func MessageBody(m bots.Message) *v1.Message {
	out := &v1.Message{
		ID:      m.ID,
		Content: m.Content,
		User:    UserBody(m.User),
		Member:  MemberBody(m.Member, m.User),
	}
	if t := m.Created(); !t.IsZero() {
		out.CreatedAt = t.UnixMilli()
	}
	if !m.UpdatedAt.IsZero() {
		out.UpdatedAt = m.UpdatedAt.UnixMilli()
	}
	if m.QuoteID != "" {
		out.Quote = &v1.Message{ID: m.QuoteID}
	}
	return out
}

func UserBody(u *bots.User) *v1.User {
	if u == nil {
		return nil
	}
	return &v1.User{ID: u.ID, Name: u.Name, Nick: u.Nick, Avatar: u.Avatar, IsBot: u.IsBot}
}

func MemberBody(m *bots.Member, u *bots.User) *v1.Member {
	if m == nil {
		return nil
	}
	return &v1.Member{User: UserBody(u), Nick: m.Nick, Avatar: m.Avatar}
}

func GuildBody(g *bots.Guild) *v1.Guild {
	if g == nil {
		return nil
	}
	return &v1.Guild{ID: g.ID, Name: g.Name, Avatar: g.Avatar}
}

func ChannelBody(c *bots.Channel) *v1.Channel {
	if c == nil {
		return nil
	}
	return &v1.Channel{ID: c.ID, Type: int(c.Type), Name: c.Name, ParentID: c.ParentID}
}
