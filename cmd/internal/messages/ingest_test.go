package messages

import (
	"context"
	"fmt"
	"testing"
	"time"

	"kaenbyou/cmd/internal/bots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageEvent(kind bots.EventKind, m bots.Message, at int64) bots.Event {
	return bots.Event{
		Kind:      kind,
		Platform:  "discord",
		SelfID:    "bot",
		Timestamp: ms(at),
		Channel:   &bots.Channel{ID: m.ChannelID},
		Message:   &m,
	}
}

func TestIngestCreatedPrefersMemberProfile(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	pub := &recorder{}
	in := NewIngestor(nil, NewGate(st), pub, 2, nil)

	m := msg("m1", 100)
	m.QuoteID = "m0"
	m.UpdatedAt = ms(100)
	evt := messageEvent(bots.EventMessageCreated, m, 100)
	evt.Member = &bots.Member{Nick: "guild-nick"}
	require.NoError(t, in.Apply(ctx, evt))

	got, err := st.Get(ctx, key("c1", "m1"))
	require.NoError(t, err)
	assert.Equal(t, "content of m1", got.Content)
	assert.Equal(t, "m0", got.QuoteID)
	assert.Equal(t, "g1", got.GuildID)
	assert.Equal(t, "guild-nick", got.Author.Nick)
	assert.False(t, got.Edited, "updated at equal to created at is not an edit")
	require.Len(t, pub.Events(), 1)
}

func TestIngestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	pub := &recorder{}
	in := NewIngestor(nil, NewGate(st), pub, 2, nil)

	require.NoError(t, in.Apply(ctx, messageEvent(bots.EventMessageCreated, msg("m1", 100), 100)))

	upd := msg("m1", 100)
	upd.Content = "edited"
	upd.UpdatedAt = ms(150)
	require.NoError(t, in.Apply(ctx, messageEvent(bots.EventMessageUpdated, upd, 150)))

	got, err := st.Get(ctx, key("c1", "m1"))
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.True(t, got.Edited)
	sameInstant(t, ms(150), got.UpdatedAt)
	assert.Equal(t, "alice", got.Author.Name, "update keeps the author snapshot")

	// Deletes may arrive without channel scoping.
	del := bots.Event{Kind: bots.EventMessageDeleted, Platform: "discord", Timestamp: ms(200), Message: &bots.Message{ID: "m1"}}
	require.NoError(t, in.Apply(ctx, del))

	got, err = st.Get(ctx, key("c1", "m1"))
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.True(t, got.Edited)
	assert.Equal(t, 1, st.Len())
	assert.Len(t, pub.Events(), 3)
}

func TestIngestUpdateBeforeCreateSynthesizesRow(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	in := NewIngestor(nil, NewGate(st), nil, 1, nil)

	upd := bots.Message{ID: "m5", ChannelID: "c1", Content: "early edit", UpdatedAt: ms(500)}
	require.NoError(t, in.Apply(ctx, messageEvent(bots.EventMessageUpdated, upd, 500)))

	got, err := st.Get(ctx, key("c1", "m5"))
	require.NoError(t, err)
	assert.Equal(t, "early edit", got.Content)
	assert.True(t, got.Edited)
	assert.True(t, got.CreatedAt.IsZero())

	// The create catches up later and fills in what the update lacked.
	late := msg("m5", 400)
	require.NoError(t, in.Apply(ctx, messageEvent(bots.EventMessageCreated, late, 400)))
	got, err = st.Get(ctx, key("c1", "m5"))
	require.NoError(t, err)
	sameInstant(t, ms(400), got.CreatedAt)
	assert.Equal(t, "early edit", got.Content, "older create does not roll back the edit")
	assert.True(t, got.Edited)
	assert.Equal(t, "g1", got.GuildID)
	assert.Equal(t, Author{ID: "u1", Name: "alice"}, got.Author)

	g1 := "g1"
	frontiers, err := st.LatestByChannel(ctx, LatestQuery{Platform: "discord", GuildID: &g1})
	require.NoError(t, err)
	require.Len(t, frontiers, 1)
	assert.Equal(t, "m5", frontiers[0].MessageID)

	// A delete without channel for an unknown message has nowhere to land.
	del := bots.Event{Kind: bots.EventMessageDeleted, Platform: "discord", Timestamp: ms(600), Message: &bots.Message{ID: "nope"}}
	require.NoError(t, in.Apply(ctx, del))
	assert.Equal(t, 1, st.Len())
}

func TestIngestDeleteBeforeCreateKeepsGuild(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	in := NewIngestor(nil, NewGate(st), nil, 1, nil)

	del := bots.Event{
		Kind:      bots.EventMessageDeleted,
		Platform:  "discord",
		Timestamp: ms(500),
		Channel:   &bots.Channel{ID: "c1"},
		Message:   &bots.Message{ID: "m7"},
	}
	require.NoError(t, in.Apply(ctx, del))
	require.NoError(t, in.Apply(ctx, messageEvent(bots.EventMessageCreated, msg("m7", 100), 100)))

	got, err := st.Get(ctx, key("c1", "m7"))
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "g1", got.GuildID)
	assert.Equal(t, "u1", got.Author.ID)

	g1 := "g1"
	frontiers, err := st.LatestByChannel(ctx, LatestQuery{Platform: "discord", GuildID: &g1})
	require.NoError(t, err)
	require.Len(t, frontiers, 1)
	assert.Equal(t, "m7", frontiers[0].MessageID)
}

func TestIngestStoreFailureIsNotPublished(t *testing.T) {
	st := NewInMemoryStore()
	require.NoError(t, st.Close())
	pub := &recorder{}
	in := NewIngestor(nil, NewGate(st), pub, 1, nil)

	err := in.Apply(context.Background(), messageEvent(bots.EventMessageCreated, msg("m1", 100), 100))
	require.ErrorIs(t, err, ErrStoreClosed)
	assert.Empty(t, pub.Events())

	err = in.Apply(context.Background(), bots.Event{Kind: bots.EventMessageCreated, Platform: "discord"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngestLanesKeepChannelOrder(t *testing.T) {
	st := NewInMemoryStore()
	pub := &recorder{}
	in := NewIngestor(nil, NewGate(st), pub, 4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = in.Run(ctx)
	}()

	const perChannel = 20
	for i := range perChannel {
		for _, ch := range []string{"a", "b", "c"} {
			m := bots.Message{ID: fmt.Sprintf("%s-%d", ch, i), ChannelID: ch, CreatedAt: ms(int64(i))}
			require.NoError(t, in.Submit(messageEvent(bots.EventMessageCreated, m, int64(i))))
		}
	}

	require.Eventually(t, func() bool { return len(pub.Events()) == 3*perChannel }, 2*time.Second, time.Millisecond)

	next := map[string]int{}
	for _, evt := range pub.Events() {
		ch := evt.ChannelID()
		assert.Equal(t, fmt.Sprintf("%s-%d", ch, next[ch]), evt.Message.ID)
		next[ch]++
	}

	cancel()
	<-done
	assert.ErrorIs(t, in.Submit(messageEvent(bots.EventMessageCreated, msg("late", 1), 1)), errIngestStopped)
}

func TestIngestLaneOf(t *testing.T) {
	in := NewIngestor(nil, NewGate(NewInMemoryStore()), nil, 8, nil)

	created := messageEvent(bots.EventMessageCreated, msg("m1", 100), 100)
	scoped := bots.Event{Kind: bots.EventMessageDeleted, Platform: "discord", Message: &bots.Message{ID: "m1", ChannelID: "c1"}}
	assert.Equal(t, in.laneOf(created), in.laneOf(scoped), "same channel, same lane")

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		del := bots.Event{Kind: bots.EventMessageDeleted, Platform: "discord", Message: &bots.Message{ID: id}}
		assert.Equal(t, 0, in.laneOf(del), "delete %s without channel", id)
	}
}
