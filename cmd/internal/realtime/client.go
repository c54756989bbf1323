package realtime

import (
	"context"
	"sync"
)

// ClientState is the subscriber lifecycle.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthorized
	StateStreaming
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultSendQueue = 256

// Client is one event stream subscriber. Frames are queued in memory and
// drained by the connection's writer. Replayed and control frames are never
// refused; live frames beyond the queue limit mark the client as a slow
// consumer and close it.
type Client struct {
	ID string

	mu       sync.Mutex
	state    ClientState
	queue    [][]byte
	limit    int
	lastSeq  int64
	overflow bool

	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewClient(id string, sendQueue int) *Client {
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &Client{
		ID:     id,
		limit:  sendQueue,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authorize moves a connecting client forward. It reports false if the
// client already left the connecting state.
func (c *Client) Authorize() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateAuthorized
	return true
}

// Push queues a control frame (Ready, Pong).
func (c *Client) Push(frame []byte) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
	c.wake()
}

// replay queues a buffered event during attach, ignoring the queue limit.
func (c *Client) replay(seq int64, frame []byte) {
	c.mu.Lock()
	if c.state == StateClosed || seq <= c.lastSeq {
		c.mu.Unlock()
		return
	}
	c.lastSeq = seq
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
	c.wake()
}

// startStreaming flips an authorized client to live delivery.
func (c *Client) startStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthorized {
		return false
	}
	c.state = StateStreaming
	return true
}

// offer queues a live event. Clients that are not streaming are skipped; a
// full queue closes the client. It reports whether the frame was queued.
func (c *Client) offer(seq int64, frame []byte) bool {
	c.mu.Lock()
	if c.state != StateStreaming || seq <= c.lastSeq {
		c.mu.Unlock()
		return false
	}
	if len(c.queue) >= c.limit {
		c.overflow = true
		c.mu.Unlock()
		c.Close()
		return false
	}
	c.lastSeq = seq
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
	c.wake()
	return true
}

// Next blocks until a frame is queued and returns it. It fails once the
// client is closed or ctx is done; queued frames are dropped then.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return nil, errClientClosed
		}
		if len(c.queue) > 0 {
			f := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, errClientClosed
		case <-c.notify:
		}
	}
}

// Overflowed reports whether the client was closed as a slow consumer.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflow
}

// LastSeq is the highest event sequence queued to the client.
func (c *Client) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.queue = nil
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
