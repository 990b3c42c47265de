package scheduler

import "tilestream/internal/demand"

// queue：FIFO，出队只移动 head，积累到一半容量时整体前移
type queue struct {
	items []demand.Request
	head  int
}

func (q *queue) push(r demand.Request) { q.items = append(q.items, r) }

func (q *queue) pop() demand.Request {
	r := q.items[q.head]
	q.items[q.head] = demand.Request{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return r
}

func (q *queue) len() int { return len(q.items) - q.head }

// snapshot：按出队顺序的副本
func (q *queue) snapshot() []demand.Request {
	out := make([]demand.Request, q.len())
	copy(out, q.items[q.head:])
	return out
}
