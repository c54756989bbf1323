package realtime

import (
	"sync"
	"time"
)

const (
	DefaultRetention   = 5 * time.Minute
	DefaultMaxBuffered = 10000
)

type entry struct {
	seq   int64
	at    time.Time
	frame []byte
}

// Buffer is the resume window: encoded event frames in sequence order.
// Entries leave from the head, by age on Sweep and by count on Append.
type Buffer struct {
	mu        sync.Mutex
	entries   []entry
	retention time.Duration
	max       int
}

func NewBuffer(retention time.Duration, max int) *Buffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if max < 0 {
		max = 0
	}
	return &Buffer{retention: retention, max: max}
}

// Append adds an entry at the tail. Sequences must be increasing.
func (b *Buffer) Append(seq int64, at time.Time, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry{seq: seq, at: at, frame: frame})
	if b.max > 0 && len(b.entries) > b.max {
		b.trimLocked(len(b.entries) - b.max)
	}
}

// Since returns the entries with a sequence strictly greater than after, in
// ascending order.
func (b *Buffer) Since(after int64) []entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := len(b.entries)
	for i > 0 && b.entries[i-1].seq > after {
		i--
	}
	return append([]entry(nil), b.entries[i:]...)
}

// Sweep evicts head entries older than the retention window and reports how
// many were dropped.
func (b *Buffer) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cut := now.Add(-b.retention)
	n := 0
	for n < len(b.entries) && b.entries[n].at.Before(cut) {
		n++
	}
	b.trimLocked(n)
	return n
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Oldest returns the smallest retained sequence, or 0 when empty.
func (b *Buffer) Oldest() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0
	}
	return b.entries[0].seq
}

func (b *Buffer) trimLocked(n int) {
	if n <= 0 {
		return
	}
	clear(b.entries[:n])
	b.entries = b.entries[n:]
}
