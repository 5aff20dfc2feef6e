package credentials

// Queue is the ordered set of credentials still usable in this pass.
// Rotation drops the head; the queue is rebuilt from the pool on the next pass.
type Queue struct {
	pool    *Pool
	records []Record
}

func newQueue(pool *Pool, records []Record) *Queue {
	return &Queue{pool: pool, records: records}
}

// Current returns the head credential, skipping any whose counter has
// reached the daily cap since the queue was built.
func (q *Queue) Current() (Record, bool) {
	for len(q.records) > 0 {
		head := q.records[0]
		if r, ok := q.pool.Get(head.KeyDesc); ok && r.Remaining(q.pool.Quota()) > 0 {
			return r, true
		}
		q.records = q.records[1:]
	}
	return Record{}, false
}

// Rotate drops the head credential and reports whether another remains.
func (q *Queue) Rotate() bool {
	if len(q.records) > 0 {
		q.records = q.records[1:]
	}
	_, ok := q.Current()
	return ok
}

// Len returns the number of credentials left in the queue.
func (q *Queue) Len() int {
	return len(q.records)
}
