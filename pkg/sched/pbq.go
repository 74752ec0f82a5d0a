package sched

import "container/list"

// PBQ is the priority bitmap queue described in §4.1: an array of N FIFO
// buckets plus an occupancy bitmap, giving O(1) insert/remove/first/next.
// Bucket 0 is shared by every RT priority and keeps tasks ordered by
// effective prio within the bucket (insertion sort on a bucket that in
// practice never holds more than a handful of runnable RT tasks); every
// other bucket is a straight FIFO. A PBQ is not safe for concurrent use;
// callers serialize access through the owning Runqueue's lock.
type PBQ struct {
	buckets    []list.List
	occupied   wordBitmap
	idleBucket int
	maxAdj     int
	nr         int
}

// pbqEntry is the value stored at each list.Element.
type pbqEntry struct {
	task *Task
}

// NewPBQ builds an empty PBQ sized for a scheduler configured with maxAdj.
func NewPBQ(maxAdj int) *PBQ {
	idle := idleBucketFor(maxAdj)
	n := bucketCountFor(maxAdj)
	q := &PBQ{
		buckets:    make([]list.List, n),
		occupied:   newWordBitmap(n),
		idleBucket: idle,
		maxAdj:     maxAdj,
	}
	for i := range q.buckets {
		q.buckets[i].Init()
	}
	return q
}

// IdleBucket returns IDLE_BUCKET for this queue.
func (q *PBQ) IdleBucket() int { return q.idleBucket }

// NumRunning returns the count of queued tasks (nr_running contribution).
func (q *PBQ) NumRunning() int { return q.nr }

// Empty reports whether no bucket holds a task.
func (q *PBQ) Empty() bool { return q.occupied.empty() }

// Insert files t into the bucket its current Prio/BoostPrio maps to (I4:
// bucket assignment always reflects SchedPrio at insertion time). Bucket 0
// is kept sorted by Prio ascending so RT ties break FIFO-within-equal-prio
// while still respecting priority order across distinct RT priorities.
func (q *PBQ) Insert(t *Task) {
	idx := SchedPrio(t, q.maxAdj, q.idleBucket)
	t.QueueIdx = idx
	b := &q.buckets[idx]

	if idx == 0 && b.Len() > 0 {
		for e := b.Front(); e != nil; e = e.Next() {
			other := e.Value.(pbqEntry).task
			if t.Prio < other.Prio {
				t.node = b.InsertBefore(pbqEntry{t}, e)
				q.afterInsert(idx)
				return
			}
		}
	}
	t.node = b.PushBack(pbqEntry{t})
	q.afterInsert(idx)
}

func (q *PBQ) afterInsert(idx int) {
	q.occupied.set(idx)
	q.nr++
}

// Remove unfiles t from whatever bucket it currently occupies. It is a
// no-op if t is not queued.
func (q *PBQ) Remove(t *Task) {
	if t.node == nil {
		return
	}
	b := &q.buckets[t.QueueIdx]
	b.Remove(t.node)
	t.node = nil
	if b.Len() == 0 {
		q.occupied.clear(t.QueueIdx)
	}
	q.nr--
}

// First returns the most urgent runnable task (lowest occupied bucket,
// front of that bucket's FIFO), or nil if the queue is empty.
func (q *PBQ) First() *Task {
	idx, ok := q.occupied.firstSet(0)
	if !ok {
		return nil
	}
	front := q.buckets[idx].Front()
	if front == nil {
		return nil
	}
	return front.Value.(pbqEntry).task
}

// NextAfter implements the PBQ "next" operation (§4.1): the successor of t
// within its own bucket, else the head of the next non-empty bucket after
// t's, else nil. t must currently be queued.
func (q *PBQ) NextAfter(t *Task) *Task {
	if t.node == nil {
		return nil
	}
	if succ := t.node.Next(); succ != nil {
		return succ.Value.(pbqEntry).task
	}
	idx, ok := q.occupied.firstSet(t.QueueIdx + 1)
	if !ok {
		return nil
	}
	front := q.buckets[idx].Front()
	if front == nil {
		return nil
	}
	return front.Value.(pbqEntry).task
}

// Requeue moves t to the back of its current bucket without changing
// bucket assignment (RR timeslice expiry, §4.6 step 8). If t's priority
// inputs changed since it was last inserted, callers must Remove then
// Insert instead.
func (q *PBQ) Requeue(t *Task) {
	if t.node == nil {
		return
	}
	b := &q.buckets[t.QueueIdx]
	b.MoveToBack(t.node)
}

// HighestPriorityBucket returns the lowest occupied bucket index, or
// (idleBucket, false) if empty — used by the watermark index to compute
// the level this CPU should advertise after an enqueue/dequeue (§4.3).
func (q *PBQ) HighestPriorityBucket() (int, bool) {
	idx, ok := q.occupied.firstSet(0)
	if !ok {
		return q.idleBucket, false
	}
	return idx, true
}
