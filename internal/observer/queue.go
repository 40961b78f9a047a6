package observer

import "github.com/forgerun/sidecar/internal/models"

// eventQueue is a fixed-capacity FIFO ring. It is not safe for concurrent
// use; the Observer guards it with its own mutex.
type eventQueue struct {
	buf  []models.Event
	head int
	size int
}

func newEventQueue(capacity int) *eventQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &eventQueue{buf: make([]models.Event, capacity)}
}

func (q *eventQueue) len() int      { return q.size }
func (q *eventQueue) capacity() int { return len(q.buf) }
func (q *eventQueue) full() bool    { return q.size == len(q.buf) }

// push appends an event. It returns false when the queue is full; callers
// evict first when they want drop-oldest semantics.
func (q *eventQueue) push(e models.Event) bool {
	if q.full() {
		return false
	}
	q.buf[(q.head+q.size)%len(q.buf)] = e
	q.size++
	return true
}

// pop removes and returns the oldest event.
func (q *eventQueue) pop() (models.Event, bool) {
	if q.size == 0 {
		return models.Event{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = models.Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return e, true
}
