package messages

import "sync"

// TaskState is the lifecycle of a backfill task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskFetching
	TaskAwaitingMore
	TaskDone
	TaskAbandoned
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskFetching:
		return "fetching"
	case TaskAwaitingMore:
		return "awaiting_more"
	case TaskDone:
		return "done"
	case TaskAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Task backfills one channel for one connection, paging backwards from
// Cursor until Frontier (the newest locally known message id) shows up or
// history runs out. An empty Frontier means the channel has no local rows.
type Task struct {
	Platform  string
	SelfID    string
	GuildID   string
	ChannelID string
	Frontier  string
	Cursor    string
	State     TaskState
	Pages     int

	gen uint64
}

// Queue is the ordered backfill work queue. Tasks carry the generation of
// their connection at enqueue time; replacing or dropping a connection's
// tasks bumps the generation so a task in flight cannot come back.
type Queue struct {
	mu    sync.Mutex
	items []*Task
	gens  map[string]uint64
}

func NewQueue() *Queue {
	return &Queue{gens: make(map[string]uint64)}
}

// Push appends fresh tasks at the tail.
func (q *Queue) Push(tasks ...*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range tasks {
		t.gen = q.gens[t.SelfID]
		t.State = TaskPending
		q.items = append(q.items, t)
	}
}

// Requeue puts a partially processed task back at the tail. It reports
// false when the task's connection was reset while it was in flight.
func (q *Queue) Requeue(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.gen != q.gens[t.SelfID] {
		return false
	}
	t.State = TaskAwaitingMore
	q.items = append(q.items, t)
	return true
}

// Pop removes the head task, or returns nil when the queue is empty.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// Replace drops every pending task of selfID and appends tasks in their
// place. It returns the number of tasks dropped.
func (q *Queue) Replace(selfID string, tasks []*Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.dropLocked(selfID)
	for _, t := range tasks {
		t.gen = q.gens[selfID]
		t.State = TaskPending
		q.items = append(q.items, t)
	}
	return n
}

// Drop abandons every pending task of selfID.
func (q *Queue) Drop(selfID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropLocked(selfID)
}

func (q *Queue) dropLocked(selfID string) int {
	q.gens[selfID]++
	kept := q.items[:0]
	dropped := 0
	for _, t := range q.items {
		if t.SelfID == selfID {
			t.State = TaskAbandoned
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return dropped
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot copies the pending tasks in queue order.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.items))
	for _, t := range q.items {
		out = append(out, *t)
	}
	return out
}
