package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewSortsWithinMillisecond(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	prev := ""
	for range 50 {
		id, err := New(now)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("len=%d want 26", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %s after %s", id, prev)
		}
		prev = id
	}

	parsed, err := ulid.Parse(prev)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Time() != uint64(now.UnixMilli()) {
		t.Fatalf("time=%d want %d", parsed.Time(), now.UnixMilli())
	}
}
