package messages

import (
	"context"
	"testing"

	"kaenbyou/cmd/internal/bots"
	"kaenbyou/cmd/internal/bots/botstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, st Store, deltas ...MessageDelta) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), deltas))
}

func TestResolveBuildsTaskPerChannel(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()

	seed(t, st,
		fullDelta("c1", "m1", "one", 100, 100),
		fullDelta("c1", "m2", "two", 200, 200),
	)
	g2 := fullDelta("c9", "z", "other guild", 50, 50)
	g2.GuildID = ptr("g2")
	seed(t, st, g2)

	conn := botstest.New("discord", "bot")
	conn.SetGuilds(bots.Guild{ID: "g1"}, bots.Guild{ID: "g2"})
	conn.SetChannels("g1",
		bots.Channel{ID: "c1", Type: bots.ChannelText},
		bots.Channel{ID: "c2", Type: bots.ChannelText},
		bots.Channel{ID: "cat", Type: bots.ChannelCategory},
	)

	tasks, err := NewResolver(nil, st).Resolve(ctx, conn)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, Task{Platform: "discord", SelfID: "bot", GuildID: "g1", ChannelID: "c1", Frontier: "m2"}, *tasks[0])
	assert.Equal(t, Task{Platform: "discord", SelfID: "bot", GuildID: "g1", ChannelID: "c2"}, *tasks[1])
	assert.Equal(t, Task{Platform: "discord", SelfID: "bot", GuildID: "g2", ChannelID: "c9", Frontier: "z"}, *tasks[2])
}

func TestResolveIgnoresOtherPlatforms(t *testing.T) {
	st := NewInMemoryStore()
	slackRow := fullDelta("c1", "s1", "hi", 100, 100)
	slackRow.Platform = "slack"
	seed(t, st, slackRow)

	conn := botstest.NewWithCaps("discord", "bot", bots.CapGuildList, bots.CapMessageList)
	conn.SetGuilds(bots.Guild{ID: "g1"})

	tasks, err := NewResolver(nil, st).Resolve(context.Background(), conn)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestResolveRequiresCapabilities(t *testing.T) {
	st := NewInMemoryStore()
	seed(t, st, fullDelta("c1", "m1", "one", 100, 100))

	conn := botstest.NewWithCaps("telegram", "bot", bots.CapMessageCreate)
	assert.False(t, CanBackfill(conn))

	tasks, err := NewResolver(nil, st).Resolve(context.Background(), conn)
	require.NoError(t, err)
	assert.Nil(t, tasks)
	assert.Empty(t, conn.Fetches())
}

func TestResolveGuildWithoutChannelListing(t *testing.T) {
	st := NewInMemoryStore()
	seed(t, st, fullDelta("c1", "m1", "one", 100, 100))

	conn := botstest.NewWithCaps("discord", "bot", bots.CapGuildList, bots.CapMessageList)
	tasks, err := NewResolver(nil, st).ResolveGuild(context.Background(), conn, "g1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "m1", tasks[0].Frontier)
}
