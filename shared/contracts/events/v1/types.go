package v1

// Login status values.
const (
	StatusOffline    = 0
	StatusOnline     = 1
	StatusConnect    = 2
	StatusDisconnect = 3
	StatusReconnect  = 4
)

// Event type names carried in Event.Type.
const (
	TypeLoginUpdated   = "login-updated"
	TypeGuildAdded     = "guild-added"
	TypeMessageCreated = "message-created"
	TypeMessageUpdated = "message-updated"
	TypeMessageDeleted = "message-deleted"
)

type IdentifyBody struct {
	Token string `json:"token,omitempty"`
	// Sequence is the last event id the subscriber saw. Absent means no replay.
	Sequence *int64 `json:"sequence,omitempty"`
}

type ReadyBody struct {
	Logins []Login `json:"logins"`
}

type Login struct {
	User     *User  `json:"user,omitempty"`
	SelfID   string `json:"self_id"`
	Platform string `json:"platform"`
	Status   int    `json:"status"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Nick   string `json:"nick,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

type Member struct {
	User   *User  `json:"user,omitempty"`
	Nick   string `json:"nick,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Guild struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Channel struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	Name     string `json:"name,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

type Message struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Channel   *Channel `json:"channel,omitempty"`
	Guild     *Guild   `json:"guild,omitempty"`
	User      *User    `json:"user,omitempty"`
	Member    *Member  `json:"member,omitempty"`
	Quote     *Message `json:"quote,omitempty"`
	CreatedAt int64    `json:"created_at,omitempty"`
	UpdatedAt int64    `json:"updated_at,omitempty"`
}

// Event is the body of an OpEvent frame and the webhook payload.
// ID is the dispatcher sequence; Timestamp is unix milliseconds.
type Event struct {
	ID        int64    `json:"id"`
	Type      string   `json:"type"`
	Platform  string   `json:"platform"`
	SelfID    string   `json:"self_id"`
	Timestamp int64    `json:"timestamp"`
	Login     *Login   `json:"login,omitempty"`
	Guild     *Guild   `json:"guild,omitempty"`
	Channel   *Channel `json:"channel,omitempty"`
	User      *User    `json:"user,omitempty"`
	Member    *Member  `json:"member,omitempty"`
	Message   *Message `json:"message,omitempty"`
}
