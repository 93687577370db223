package client

import "sync"

// sendQueue buffers encoded envelopes while the link is down. Capacity is
// fixed; pushing past it evicts the oldest entry so recent turns survive.
type sendQueue struct {
	mu    sync.Mutex
	items [][]byte
	max   int
}

const defaultQueueCapacity = 32

func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &sendQueue{max: capacity}
}

// push appends data and returns the evicted oldest entry, if any.
func (q *sendQueue) push(data []byte) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	var evicted []byte
	if len(q.items) >= q.max {
		evicted = q.items[0]
		q.items = q.items[1:]
	}
	q.items = append(q.items, data)
	return evicted
}

// pushFront reinserts an envelope whose write failed, keeping order.
func (q *sendQueue) pushFront(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		q.items = q.items[:len(q.items)-1]
	}
	q.items = append([][]byte{data}, q.items...)
}

// drain removes and returns everything in FIFO order.
func (q *sendQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *sendQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
