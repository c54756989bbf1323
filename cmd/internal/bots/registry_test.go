package bots_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/bots/botstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryFindOnlyOnline(t *testing.T) {
	r := bots.NewRegistry(quietLogger())
	conn := botstest.New("discord", "bot-1")

	_, err := r.Add(context.Background(), conn)
	require.NoError(t, err)

	_, ok := r.Find("bot-1")
	assert.False(t, ok, "offline connections are not resolvable")

	conn.GoOnline()
	got, ok := r.Find("bot-1")
	require.True(t, ok)
	assert.Same(t, conn, got)

	_, ok = r.FindOn("slack", "bot-1")
	assert.False(t, ok)
	_, ok = r.FindOn("discord", "bot-1")
	assert.True(t, ok)
}

func TestRegistryPublishesStatusChanges(t *testing.T) {
	r := bots.NewRegistry(quietLogger())
	conn := botstest.New("discord", "bot-1")

	var mu sync.Mutex
	var seen []bots.Status
	unsub := r.Subscribe(bots.EventLoginUpdated, func(_ bots.Connection, evt bots.Event) {
		mu.Lock()
		seen = append(seen, evt.Status)
		mu.Unlock()
		assert.Equal(t, "bot-1", evt.SelfID)
		assert.Equal(t, "discord", evt.Platform)
		assert.False(t, evt.Timestamp.IsZero())
	})

	_, err := r.Add(context.Background(), conn)
	require.NoError(t, err)

	conn.GoOnline()
	conn.GoOnline() // no transition, no event
	conn.GoOffline()

	unsub()
	conn.GoOnline()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bots.Status{bots.StatusOnline, bots.StatusOffline}, seen)
}

func TestRegistryLoginsAndRemove(t *testing.T) {
	r := bots.NewRegistry(quietLogger())
	a := botstest.New("discord", "a")
	b := botstest.New("slack", "b")

	idA, err := r.Add(context.Background(), a)
	require.NoError(t, err)
	_, err = r.Add(context.Background(), b)
	require.NoError(t, err)
	b.GoOnline()

	logins := r.Logins()
	require.Len(t, logins, 2)
	assert.Equal(t, "a", logins[0].SelfID)
	assert.Equal(t, bots.StatusOffline, logins[0].Status)
	assert.Equal(t, bots.StatusOnline, logins[1].Status)

	require.NoError(t, r.Remove(context.Background(), idA))
	assert.True(t, a.Stopped())
	assert.Len(t, r.Connections(), 1)
	assert.ErrorIs(t, r.Remove(context.Background(), idA), bots.ErrConnectionNotFound)
}

func TestRegistryWaitOnline(t *testing.T) {
	r := bots.NewRegistry(quietLogger())
	conn := botstest.New("discord", "bot-1")
	_, err := r.Add(context.Background(), conn)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		conn.GoOnline()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.WaitOnline(ctx, conn))

	other := botstest.New("discord", "bot-2")
	_, err = r.Add(context.Background(), other)
	require.NoError(t, err)
	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, r.WaitOnline(short, other), context.DeadlineExceeded)
}

func TestRegistryOpenValidatesConfig(t *testing.T) {
	r := bots.NewRegistry(quietLogger())
	built := 0
	require.NoError(t, r.RegisterFactory(bots.Factory{
		Platform: "fake",
		Schema:   []byte(`{"type":"object","required":["token"],"properties":{"token":{"type":"string"}}}`),
		New: func(_ *slog.Logger, raw json.RawMessage) (bots.Connection, error) {
			built++
			var cfg struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, err
			}
			return botstest.New("fake", cfg.Token), nil
		},
	}))

	_, _, err := r.Open(context.Background(), "fake", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, bots.ErrInvalidConfig)
	assert.Equal(t, 0, built)

	_, _, err = r.Open(context.Background(), "nope", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, bots.ErrUnknownPlatform))

	id, conn, err := r.Open(context.Background(), "fake", json.RawMessage(`{"token":"t1"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "t1", conn.SelfID())
	assert.Contains(t, r.Platforms(), "fake")
}

func TestBaseDefaultsAreUnsupported(t *testing.T) {
	conn := botstest.NewWithCaps("telegram", "tg", bots.CapMessageCreate)

	assert.False(t, conn.Supports(bots.CapMessageList))
	_, err := conn.ListMessageHistory(context.Background(), "c", "")
	assert.ErrorIs(t, err, bots.ErrUnsupported)

	_, err = bots.Collect(conn.ListGuilds(context.Background()))
	assert.ErrorIs(t, err, bots.ErrUnsupported)
}
