// Package messages is the message synchronization engine: the dedup upsert
// gate, frontier resolution, the backfill queue and live event ingestion,
// plus the stores that hold the reconciled history.
package messages

import "time"

// Key is the identity of a stored message. Message ids are platform scoped
// and only unique within a channel.
type Key struct {
	Platform  string
	ChannelID string
	MessageID string
}

func (k Key) Valid() bool {
	return k.Platform != "" && k.ChannelID != "" && k.MessageID != ""
}

// Author is the point-in-time snapshot of the sender, as of the message's
// last mutation.
type Author struct {
	ID     string
	Name   string
	Nick   string
	Avatar string
	IsBot  bool
}

// StoredMessage is one reconciled row.
type StoredMessage struct {
	Key
	Seq       int64
	Content   string
	GuildID   string
	QuoteID   string
	CreatedAt time.Time // zero for rows synthesized by update/delete before create
	UpdatedAt time.Time
	Deleted   bool
	Edited    bool
	Author    Author
}

// MessageDelta is a partial mutation. Nil fields are left untouched on an
// existing row. UpdatedAt is always applied; the gate fills it when zero.
type MessageDelta struct {
	Key
	Content   *string
	GuildID   *string
	QuoteID   *string
	CreatedAt *time.Time
	UpdatedAt time.Time
	Deleted   *bool
	Edited    *bool
	Author    *Author
}

// Filter selects rows for a point update. ChannelID is optional.
type Filter struct {
	Platform  string
	ChannelID string
	MessageID string
}

// Patch is the point update applied to rows matched by a Filter.
type Patch struct {
	Content   *string
	UpdatedAt time.Time
	Deleted   bool
	Edited    bool
}

// LatestQuery scopes the per-channel aggregation. An empty Platform matches
// every platform; a nil GuildID matches every guild.
type LatestQuery struct {
	Platform string
	GuildID  *string
}

// ChannelFrontier is the newest stored message of one channel.
type ChannelFrontier struct {
	Platform  string
	ChannelID string
	GuildID   string
	MessageID string
	CreatedAt time.Time
	Content   string
	Author    Author
}

// ListQuery pages stored messages of one channel in creation order.
type ListQuery struct {
	Platform  string
	ChannelID string
	After     time.Time
	Limit     int
}

func ptr[T any](v T) *T { return &v }
