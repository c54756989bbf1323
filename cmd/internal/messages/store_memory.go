package messages

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the fallback when no database is configured, and the
// store engine tests run against.
type InMemoryStore struct {
	mu     sync.Mutex
	seq    int64
	rows   map[Key]*StoredMessage
	closed bool
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rows: make(map[Key]*StoredMessage),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Upsert applies every delta atomically: either all rows change or none.
func (s *InMemoryStore) Upsert(ctx context.Context, deltas []MessageDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ds, err := normalizeDeltas(deltas, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	for _, d := range ds {
		row := s.rows[d.Key]
		merged := mergeDelta(row, d)
		if row == nil {
			s.seq++
			merged.Seq = s.seq
		}
		s.rows[d.Key] = &merged
	}
	return nil
}

func (s *InMemoryStore) Patch(ctx context.Context, f Filter, p Patch) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validFilter(f); err != nil {
		return 0, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int64
	for k, row := range s.rows {
		if k.Platform != f.Platform || k.MessageID != f.MessageID {
			continue
		}
		if f.ChannelID != "" && k.ChannelID != f.ChannelID {
			continue
		}
		merged := mergePatch(*row, p)
		s.rows[k] = &merged
		n++
	}
	return n, nil
}

// LatestByChannel picks, per channel, the row with the greatest CreatedAt,
// breaking ties by the greater Seq. Rows without CreatedAt are skipped.
func (s *InMemoryStore) LatestByChannel(ctx context.Context, q LatestQuery) ([]ChannelFrontier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	type chKey struct{ platform, channel string }
	best := make(map[chKey]*StoredMessage)
	for _, row := range s.rows {
		if row.CreatedAt.IsZero() {
			continue
		}
		if q.Platform != "" && row.Platform != q.Platform {
			continue
		}
		if q.GuildID != nil && row.GuildID != *q.GuildID {
			continue
		}
		k := chKey{row.Platform, row.ChannelID}
		cur := best[k]
		if cur == nil || newer(row, cur) {
			best[k] = row
		}
	}

	out := make([]ChannelFrontier, 0, len(best))
	for _, row := range best {
		out = append(out, frontierOf(*row))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out, nil
}

func newer(a, b *StoredMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

func frontierOf(m StoredMessage) ChannelFrontier {
	return ChannelFrontier{
		Platform:  m.Platform,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		MessageID: m.MessageID,
		CreatedAt: m.CreatedAt,
		Content:   m.Content,
		Author:    m.Author,
	}
}

func (s *InMemoryStore) ListMessages(ctx context.Context, q ListQuery) ([]StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.ChannelID == "" {
		return nil, fmt.Errorf("%w: missing channel id", ErrInvalidInput)
	}
	limit := clampLimit(q.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []StoredMessage
	for _, row := range s.rows {
		if row.ChannelID != q.ChannelID || row.CreatedAt.IsZero() {
			continue
		}
		if q.Platform != "" && row.Platform != q.Platform {
			continue
		}
		if !row.CreatedAt.After(q.After) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Get(ctx context.Context, k Key) (StoredMessage, error) {
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StoredMessage{}, ErrStoreClosed
	}
	row, ok := s.rows[k]
	if !ok {
		return StoredMessage{}, ErrNotFound
	}
	return *row, nil
}

// Len reports the number of stored rows.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
