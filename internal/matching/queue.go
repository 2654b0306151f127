package matching

// queue is the waiting pool: user ids in arrival order with O(1) membership.
// It is not safe for concurrent use; Service guards it with its mutex.
type queue struct {
	order  []int64
	member map[int64]struct{}
}

func newQueue() *queue {
	return &queue{member: make(map[int64]struct{})}
}

// push appends id unless it is already queued.
func (q *queue) push(id int64) bool {
	if _, ok := q.member[id]; ok {
		return false
	}
	q.member[id] = struct{}{}
	q.order = append(q.order, id)
	return true
}

// remove deletes id if present. Absent ids are not an error.
func (q *queue) remove(id int64) bool {
	if _, ok := q.member[id]; !ok {
		return false
	}
	delete(q.member, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

func (q *queue) contains(id int64) bool {
	_, ok := q.member[id]
	return ok
}

func (q *queue) len() int {
	return len(q.order)
}

// snapshot returns a copy of the queue in arrival order.
func (q *queue) snapshot() []int64 {
	out := make([]int64, len(q.order))
	copy(out, q.order)
	return out
}
