package api

import (
	"kaenbyou/cmd/internal/contacts"
	"kaenbyou/cmd/internal/messages"

	v1 "kaenbyou/shared/contracts/events/v1"
)

type storedMessage struct {
	ID        string      `json:"id"`
	Platform  string      `json:"platform"`
	Channel   v1.Channel  `json:"channel"`
	Guild     *v1.Guild   `json:"guild,omitempty"`
	User      *v1.User    `json:"user,omitempty"`
	Quote     *v1.Message `json:"quote,omitempty"`
	Content   string      `json:"content"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
	Deleted   bool        `json:"deleted"`
	Edited    bool        `json:"edited"`
}

type messageListResponse struct {
	Data []storedMessage `json:"data"`
	Next string          `json:"next,omitempty"`
}

type contactListResponse struct {
	Data map[string]*contacts.Contact `json:"data"`
}

type pageResponse[T any] struct {
	Data []T    `json:"data"`
	Next string `json:"next,omitempty"`
}

func toStoredMessage(m messages.StoredMessage) storedMessage {
	out := storedMessage{
		ID:        m.MessageID,
		Platform:  m.Platform,
		Channel:   v1.Channel{ID: m.ChannelID},
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UnixMilli(),
		UpdatedAt: m.UpdatedAt.UnixMilli(),
		Deleted:   m.Deleted,
		Edited:    m.Edited,
	}
	if m.GuildID != "" {
		out.Guild = &v1.Guild{ID: m.GuildID}
	}
	if m.QuoteID != "" {
		out.Quote = &v1.Message{ID: m.QuoteID}
	}
	if a := m.Author; a.ID != "" {
		out.User = &v1.User{ID: a.ID, Name: a.Name, Nick: a.Nick, Avatar: a.Avatar, IsBot: a.IsBot}
	}
	return out
}
