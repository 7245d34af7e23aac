package publisher

import (
	"sync"

	"gocv.io/x/gocv"
)

// Change is a published LED transition
type Change struct {
	BoardID   string  `json:"board_id"`
	LedID     string  `json:"led_id"`
	Index     int     `json:"index"`
	State     string  `json:"state"`
	Color     string  `json:"color"`
	Frequency float64 `json:"frequency"`
	Time      float64 `json:"timestamp"`
}

// Message is one outbound item: either a change or an annotated frame.
// A queued frame is owned by the queue and closed by whoever drops or
// consumes it.
type Message struct {
	Change *Change
	Frame  *gocv.Mat
}

func (m Message) release() {
	if m.Frame != nil {
		m.Frame.Close()
	}
}

// Queue is a FIFO between the detection loop and the publisher. With a
// limit of 0 it is unbounded; otherwise pushing into a full queue drops the
// oldest frame, or the oldest message if no frame is queued.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Message
	limit   int
	closed  bool
	dropped uint64
}

func NewQueue(limit int) *Queue {
	q := &Queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues m. It returns false, releasing m, when the queue is closed.
func (q *Queue) Push(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		m.release()
		return false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.dropOldestLocked()
	}
	q.items = append(q.items, m)
	q.cond.Signal()
	return true
}

func (q *Queue) dropOldestLocked() {
	idx := 0
	for i, it := range q.items {
		if it.Frame != nil {
			idx = i
			break
		}
	}
	q.items[idx].release()
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	q.dropped++
}

// Pop blocks until a message is available. ok is false once the queue is
// closed and drained.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Message{}, false
	}
	m := q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	return m, true
}

// Close stops accepting messages and wakes consumers. Queued messages can
// still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Discard releases every queued message.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.items {
		m.release()
	}
	q.items = nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
