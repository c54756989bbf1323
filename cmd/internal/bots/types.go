// Package bots is the bot connection layer: a uniform view over chat platform
// clients (listing, history paging, sending) plus the event stream they emit.
package bots

import "time"

// Capability names an optional operation a connection variant supports.
type Capability string

const (
	CapGuildList     Capability = "guild.list"
	CapChannelList   Capability = "channel.list"
	CapMessageList   Capability = "message.list"
	CapMessageCreate Capability = "message.create"
)

// Status mirrors the login status values of the event stream.
type Status int

const (
	StatusOffline Status = iota
	StatusOnline
	StatusConnect
	StatusDisconnect
	StatusReconnect
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOnline:
		return "online"
	case StatusConnect:
		return "connect"
	case StatusDisconnect:
		return "disconnect"
	case StatusReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelDirect
	ChannelCategory
	ChannelVoice
)

// HoldsMessages reports whether a channel of this type has a message history.
func (t ChannelType) HoldsMessages() bool {
	return t == ChannelText || t == ChannelDirect
}

type User struct {
	ID     string
	Name   string
	Nick   string
	Avatar string
	IsBot  bool
}

// Member is the channel or guild scoped profile of a user.
type Member struct {
	Nick   string
	Avatar string
}

type Guild struct {
	ID     string
	Name   string
	Avatar string
}

type Channel struct {
	ID       string
	Name     string
	Type     ChannelType
	ParentID string
}

type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Content   string
	QuoteID   string

	// CreatedAt is the platform creation time when reported; Timestamp is the
	// delivery time some platforms report instead.
	CreatedAt time.Time
	Timestamp time.Time
	UpdatedAt time.Time

	User   *User
	Member *Member
}

// Created returns the creation time, falling back to Timestamp.
func (m Message) Created() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt
	}
	return m.Timestamp
}

// MessagePage is one page of history, newest first in platform order.
// An empty Next means there is no older page.
type MessagePage struct {
	Items []Message
	Next  string
}

type Login struct {
	SelfID   string
	Platform string
	Status   Status
	User     *User
}

type EventKind string

const (
	EventLoginUpdated   EventKind = "login-updated"
	EventGuildAdded     EventKind = "guild-added"
	EventMessageCreated EventKind = "message-created"
	EventMessageUpdated EventKind = "message-updated"
	EventMessageDeleted EventKind = "message-deleted"
)

// Event is a notification emitted by a connection.
type Event struct {
	Kind      EventKind
	Platform  string
	SelfID    string
	Timestamp time.Time

	Status  Status
	Guild   *Guild
	Channel *Channel
	Message *Message
	User    *User
	Member  *Member
}

// ChannelID resolves the channel of a message event.
func (e Event) ChannelID() string {
	if e.Channel != nil && e.Channel.ID != "" {
		return e.Channel.ID
	}
	if e.Message != nil {
		return e.Message.ChannelID
	}
	return ""
}

// GuildID resolves the guild of an event, empty for direct messages.
func (e Event) GuildID() string {
	if e.Guild != nil && e.Guild.ID != "" {
		return e.Guild.ID
	}
	if e.Message != nil {
		return e.Message.GuildID
	}
	return ""
}
