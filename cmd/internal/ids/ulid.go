// Package ids mints ULIDs for subscriber sessions and webhook deliveries.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New returns a 26 character ULID. Ids minted within the same millisecond
// still sort in creation order.
func New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	mu.Lock()
	defer mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Must is New for callers that cannot handle the (practically impossible)
// entropy failure.
func Must(now time.Time) string {
	id, err := New(now)
	if err != nil {
		panic(err)
	}
	return id
}
