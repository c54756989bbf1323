package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStampsMissingUpdateTime(t *testing.T) {
	st := NewInMemoryStore()
	g := NewGate(st)
	g.now = func() time.Time { return ms(1234) }

	require.NoError(t, g.Upsert(context.Background(), MessageDelta{Key: key("c1", "m1"), Content: ptr("x")}))
	got, err := st.Get(context.Background(), key("c1", "m1"))
	require.NoError(t, err)
	sameInstant(t, ms(1234), got.UpdatedAt)
	assert.False(t, got.Deleted)
	assert.False(t, got.Edited)

	require.NoError(t, g.Upsert(context.Background()))
}

func TestGatePatchFallback(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	g := NewGate(st)

	created, err := g.Patch(ctx,
		Filter{Platform: "discord", MessageID: "m1"},
		Patch{UpdatedAt: ms(10), Deleted: true},
		Key{Platform: "discord", MessageID: "m1"},
	)
	require.NoError(t, err)
	assert.False(t, created, "no channel, no synthesized row")
	assert.Zero(t, st.Len())

	created, err = g.Patch(ctx,
		Filter{Platform: "discord", MessageID: "m1"},
		Patch{UpdatedAt: ms(10), Deleted: true},
		key("c1", "m1"),
	)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = g.Patch(ctx,
		Filter{Platform: "discord", ChannelID: "c1", MessageID: "m1"},
		Patch{Content: ptr("y"), UpdatedAt: ms(20), Edited: true},
		key("c1", "m1"),
	)
	require.NoError(t, err)
	assert.False(t, created, "existing row is patched in place")

	got, err := st.Get(ctx, key("c1", "m1"))
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.True(t, got.Edited)
	assert.Equal(t, "y", got.Content)
}

func TestMergeDeltaIsIdempotent(t *testing.T) {
	deltas := []MessageDelta{
		fullDelta("c1", "m1", "a", 100, 100),
		{Key: key("c1", "m1"), Content: ptr("b"), UpdatedAt: ms(200), Edited: ptr(true)},
		{Key: key("c1", "m1"), UpdatedAt: ms(300), Deleted: ptr(true)},
		fullDelta("c1", "m1", "stale", 100, 150),
	}

	var row *StoredMessage
	for _, d := range deltas {
		once := mergeDelta(row, d)
		twice := mergeDelta(&once, d)
		assert.Equal(t, once, twice)
		row = &once
	}
	assert.Equal(t, "b", row.Content)
	assert.True(t, row.Deleted)
	assert.True(t, row.Edited)
	sameInstant(t, ms(300), row.UpdatedAt)
}
