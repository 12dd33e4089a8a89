package memory

import "github.com/Strob0t/AgentMesh/internal/domain/message"

// priorityQueue is a bounded FIFO per priority class. Dequeue drains
// urgent before high before normal before low; within a class, order is
// arrival order.
type priorityQueue struct {
	capacity int
	classes  [4][]message.Message // index = Priority.Rank()
	size     int
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{capacity: capacity}
}

func (q *priorityQueue) Len() int { return q.size }

func (q *priorityQueue) Push(msg message.Message) {
	r := msg.Headers.Priority.Rank()
	q.classes[r] = append(q.classes[r], msg)
	q.size++
}

// Pop removes up to limit messages in priority order. limit <= 0 drains all.
func (q *priorityQueue) Pop(limit int) []message.Message {
	if limit <= 0 || limit > q.size {
		limit = q.size
	}
	out := make([]message.Message, 0, limit)
	for r := len(q.classes) - 1; r >= 0 && len(out) < limit; r-- {
		for len(q.classes[r]) > 0 && len(out) < limit {
			out = append(out, q.classes[r][0])
			q.classes[r] = q.classes[r][1:]
			q.size--
		}
	}
	return out
}

func (q *priorityQueue) Clear() {
	for r := range q.classes {
		q.classes[r] = nil
	}
	q.size = 0
}
