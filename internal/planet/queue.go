package planet

import "planetcore/internal/octree"

// Request asks for one node to be (re)generated or terraformed. Parent is
// set for children created by a split.
type Request struct {
	Parent *octree.Node
	Node   *octree.Node
}

// Queue is a FIFO of pending requests. It is owned by the scheduler and is
// not safe for concurrent use.
type Queue struct {
	pending []Request
}

func NewQueue() *Queue {
	return &Queue{
		pending: make([]Request, 0),
	}
}

func (q *Queue) Enqueue(req Request) {
	q.pending = append(q.pending, req)
}

// PushFront schedules req ahead of everything already waiting.
func (q *Queue) PushFront(req Request) {
	q.pending = append(q.pending, Request{})
	copy(q.pending[1:], q.pending)
	q.pending[0] = req
}

// Drain removes and returns up to max requests in FIFO order. max <= 0
// drains everything.
func (q *Queue) Drain(max int) []Request {
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := append([]Request(nil), q.pending...)
		q.pending = q.pending[:0]
		return batch
	}
	batch := append([]Request(nil), q.pending[:max]...)
	q.pending = append(q.pending[:0], q.pending[max:]...)
	return batch
}

// RemoveFunc drops every request drop reports true for and returns how
// many were removed.
func (q *Queue) RemoveFunc(drop func(Request) bool) int {
	kept := q.pending[:0]
	removed := 0
	for _, req := range q.pending {
		if drop(req) {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = Request{}
	}
	q.pending = kept
	return removed
}

func (q *Queue) Len() int {
	return len(q.pending)
}
