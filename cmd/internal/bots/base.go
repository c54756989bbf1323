package bots

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
)

// Base carries the state every adapter shares: identity, status and the
// bound emitter. Adapters embed *Base and override the operations they
// support; the defaults report ErrUnsupported.
type Base struct {
	platform string
	caps     map[Capability]struct{}

	status atomic.Int32
	user   atomic.Pointer[User]

	mu   sync.RWMutex
	emit EmitFunc

	now func() time.Time
}

func NewBase(platform string, caps ...Capability) *Base {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return &Base{platform: platform, caps: set, now: time.Now}
}

func (b *Base) Platform() string { return b.platform }

func (b *Base) SelfID() string {
	if u := b.user.Load(); u != nil {
		return u.ID
	}
	return ""
}

func (b *Base) Status() Status { return Status(b.status.Load()) }

func (b *Base) Supports(c Capability) bool {
	_, ok := b.caps[c]
	return ok
}

func (b *Base) Login() Login {
	l := Login{Platform: b.platform, Status: b.Status()}
	if u := b.user.Load(); u != nil {
		cp := *u
		l.User = &cp
		l.SelfID = u.ID
	}
	return l
}

// Bind installs the emitter. Events emitted before Bind are discarded.
func (b *Base) Bind(emit EmitFunc) {
	b.mu.Lock()
	b.emit = emit
	b.mu.Unlock()
}

// SetUser records the bot account once the platform has identified it.
func (b *Base) SetUser(u User) {
	b.user.Store(&u)
}

// SetStatus records a status transition and emits login-updated when it
// actually changed.
func (b *Base) SetStatus(s Status) {
	if Status(b.status.Swap(int32(s))) == s {
		return
	}
	b.Emit(Event{Kind: EventLoginUpdated, Status: s})
}

// Emit stamps platform, self id and timestamp when unset and forwards the
// event to the bound emitter.
func (b *Base) Emit(evt Event) {
	b.mu.RLock()
	emit := b.emit
	b.mu.RUnlock()
	if emit == nil {
		return
	}
	if evt.Platform == "" {
		evt.Platform = b.platform
	}
	if evt.SelfID == "" {
		evt.SelfID = b.SelfID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	emit(evt)
}

func (b *Base) ListGuilds(context.Context) iter.Seq2[Guild, error] {
	return func(yield func(Guild, error) bool) { yield(Guild{}, ErrUnsupported) }
}

func (b *Base) ListChannels(context.Context, string) iter.Seq2[Channel, error] {
	return func(yield func(Channel, error) bool) { yield(Channel{}, ErrUnsupported) }
}

func (b *Base) ListMessageHistory(context.Context, string, string) (MessagePage, error) {
	return MessagePage{}, ErrUnsupported
}

func (b *Base) SendMessage(context.Context, string, string) ([]Message, error) {
	return nil, ErrUnsupported
}

func (b *Base) Internal(context.Context, string, json.RawMessage) (any, error) {
	return nil, ErrUnsupported
}

// MethodName folds an internal method name so getChannel, get_channel and
// get-channel all match the same table entry.
func MethodName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return -1
		}
		return unicode.ToLower(r)
	}, name)
}

// StringArg returns positional argument i of args as a string. Numbers are
// accepted and returned in their JSON form.
func StringArg(args json.RawMessage, i int) (string, error) {
	var list []json.RawMessage
	if len(args) > 0 {
		if err := json.Unmarshal(args, &list); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadArguments, err)
		}
	}
	if i >= len(list) {
		return "", fmt.Errorf("%w: argument %d is missing", ErrBadArguments, i)
	}
	var s string
	if err := json.Unmarshal(list[i], &s); err == nil && s != "" {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(list[i], &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: argument %d is not an id", ErrBadArguments, i)
}

// Collect drains a listing sequence, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
