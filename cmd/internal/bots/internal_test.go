package bots_test

import (
	"context"
	"encoding/json"
	"testing"

	"kaenbyou/cmd/internal/bots"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethodName(t *testing.T) {
	for _, name := range []string{"getChannel", "get_channel", "get-channel", "GetChannel"} {
		assert.Equal(t, "getchannel", bots.MethodName(name), name)
	}
	assert.Equal(t, "conversationsinfo", bots.MethodName("conversations.info"))
}

func TestStringArg(t *testing.T) {
	args := json.RawMessage(`["c1", 42, {"x":1}]`)

	got, err := bots.StringArg(args, 0)
	require.NoError(t, err)
	assert.Equal(t, "c1", got)

	got, err = bots.StringArg(args, 1)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	_, err = bots.StringArg(args, 2)
	assert.ErrorIs(t, err, bots.ErrBadArguments)
	_, err = bots.StringArg(args, 3)
	assert.ErrorIs(t, err, bots.ErrBadArguments)
	_, err = bots.StringArg(nil, 0)
	assert.ErrorIs(t, err, bots.ErrBadArguments)
	_, err = bots.StringArg(json.RawMessage(`{"a":1}`), 0)
	assert.ErrorIs(t, err, bots.ErrBadArguments)
}

func TestBaseInternalUnsupported(t *testing.T) {
	b := bots.NewBase("x")
	_, err := b.Internal(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, bots.ErrUnsupported)
}
