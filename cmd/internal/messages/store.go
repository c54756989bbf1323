package messages

import "context"

// Store persists reconciled messages.
//
// Requirements:
//   - at most one row per Key; every write is an upsert
//   - only supplied delta fields overwrite; created_at is set once
//   - deleted and edited never go back to false
//   - content and author are not overwritten by a delta older than the row
//   - Seq is assigned on insert and increases monotonically
type Store interface {
	Upsert(ctx context.Context, deltas []MessageDelta) error
	Patch(ctx context.Context, f Filter, p Patch) (int64, error)
	LatestByChannel(ctx context.Context, q LatestQuery) ([]ChannelFrontier, error)
	ListMessages(ctx context.Context, q ListQuery) ([]StoredMessage, error)
	Get(ctx context.Context, k Key) (StoredMessage, error)
	Close() error
}

// Migrator is implemented by stores that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
