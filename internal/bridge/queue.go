package bridge

import "sync"

// Queue is the single-flight FIFO for messages that arrive while the
// active session is busy. It is bound to one session at a time; binding
// to a different session discards the backlog, since queued text was
// written with the old session's context in mind.
type Queue struct {
	mu        sync.Mutex
	sessionID int
	items     []string
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends text for a session, rebinding (and discarding any stale
// backlog) if the session changed.
func (q *Queue) Push(sessionID int, text string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sessionID != sessionID {
		q.sessionID = sessionID
		q.items = q.items[:0]
	}
	q.items = append(q.items, text)
	return len(q.items)
}

// Pop removes and returns the head of the backlog for a session. It
// returns false when the queue is empty or bound elsewhere.
func (q *Queue) Pop(sessionID int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sessionID != sessionID || len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Clear drops the backlog; used by /stop and /restart.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.sessionID = 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
