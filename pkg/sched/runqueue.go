package sched

import "sync"

// Runqueue is the per-CPU owner of one PBQ, the current task, the clock,
// and timeslice/accounting state (§3, §4.2). Exactly one exists per CPU
// for the lifetime of a Scheduler.
type Runqueue struct {
	mu sync.Mutex // the RQ lock (§5): protects everything below

	cpu  int
	pbq  *PBQ
	idle *Task

	curr *Task
	skip *Task // yield hint: choose_next picks the task after skip

	clock     int64
	clockTask int64

	nrRunning        int
	nrUninterruptible int
	nrIOWait         int

	maxAdj      int
	timesliceNS int64
	reschedNS   int64
}

// NewRunqueue constructs an empty RQ for cpu. Init/init-with-idle (§4.1)
// happen via AttachIdle once the idle task for this CPU exists.
func NewRunqueue(cpu, maxAdj int, timesliceNS, reschedNS int64) *Runqueue {
	return &Runqueue{
		cpu:         cpu,
		pbq:         NewPBQ(maxAdj),
		maxAdj:      maxAdj,
		timesliceNS: timesliceNS,
		reschedNS:   reschedNS,
	}
}

// Lock/Unlock expose the RQ lock directly to callers (the Scheduler) that
// must hold it across multiple RQ operations plus a watermark update, per
// the lock-ordering rules in §5.
func (rq *Runqueue) Lock()   { rq.mu.Lock() }
func (rq *Runqueue) Unlock() { rq.mu.Unlock() }

// CPU returns the CPU id this RQ belongs to.
func (rq *Runqueue) CPU() int { return rq.cpu }

// AttachIdle links the permanently-resident idle task for this CPU into
// the idle bucket (I6). Must be called once, before the RQ is used, with
// the lock held by the caller's discretion (no other goroutine can see rq
// yet at construction time).
func (rq *Runqueue) AttachIdle(idle *Task) {
	idle.BoostPrio = 0
	idle.NormalPrio = MaxRTPrio + NiceWidth + 2*rq.maxAdj
	idle.Prio = idle.NormalPrio
	idle.setCPU(rq.cpu)
	rq.idle = idle
	rq.curr = idle
	rq.pbq.Insert(idle)
	rq.nrRunning++
}

// Idle returns this RQ's permanent idle task.
func (rq *Runqueue) Idle() *Task { return rq.idle }

// Current returns the task currently marked as running on this RQ.
func (rq *Runqueue) Current() *Task { return rq.curr }

// NrRunning returns the runnable task count, including idle when nothing
// else is queued (matches PBQ.NumRunning since idle is always resident).
func (rq *Runqueue) NrRunning() int { return rq.nrRunning }

// IsPending reports whether this CPU belongs to the "pending" set: more
// than the permanently-resident idle task is queued.
func (rq *Runqueue) IsPending() bool { return rq.nrRunning > 1 }

// bestBucket returns the RQ's current highest-priority occupied bucket,
// which is always defined because idle is permanently resident.
func (rq *Runqueue) bestBucket() int {
	idx, _ := rq.pbq.HighestPriorityBucket()
	return idx
}

// Enqueue implements enqueue(t, flags) (§4.2): precondition rq.lock held
// and task_rq(t) == this RQ. Recomputes queue_idx, inserts into the PBQ,
// updates nr_running, and returns the new best bucket for the caller to
// publish to the watermark index (the Scheduler owns the Watermark, not
// the RQ, so publishing happens one level up).
func (rq *Runqueue) Enqueue(t *Task) (newBestBucket int) {
	t.setCPU(rq.cpu)
	rq.pbq.Insert(t)
	t.OnRQ = OnRQQueued
	rq.nrRunning++
	if t.Uninterruptible {
		rq.nrUninterruptible--
		t.Uninterruptible = false
	}
	if t.IOWait {
		rq.nrIOWait++
	}
	return rq.bestBucket()
}

// Dequeue implements dequeue(t, flags): inverse of Enqueue.
func (rq *Runqueue) Dequeue(t *Task) (newBestBucket int) {
	rq.pbq.Remove(t)
	t.OnRQ = OnRQOff
	rq.nrRunning--
	if t.IOWait {
		rq.nrIOWait--
		t.IOWait = false
	}
	return rq.bestBucket()
}

// Requeue recomputes t's bucket and, if it changed, removes and
// reinserts, returning whether a real move happened and the new best
// bucket.
func (rq *Runqueue) Requeue(t *Task) (moved bool, newBestBucket int) {
	newIdx := SchedPrio(t, rq.maxAdj, rq.pbq.IdleBucket())
	if newIdx == t.QueueIdx {
		return false, rq.bestBucket()
	}
	rq.pbq.Remove(t)
	rq.pbq.Insert(t)
	return true, rq.bestBucket()
}

// RequeueLazy is the no-op-preserving variant used after perturbations
// that may not have changed the bucket (e.g. a boost clamp that saturated).
func (rq *Runqueue) RequeueLazy(t *Task) (moved bool, newBestBucket int) {
	return rq.Requeue(t)
}

// RequeueSameBucket moves t to the tail of its current bucket without
// recomputing bucket assignment (RR rotation, timeslice refill).
func (rq *Runqueue) RequeueSameBucket(t *Task) {
	rq.pbq.Requeue(t)
}

// UpdateClock advances clock and clock_task monotonically (P6). irqNS and
// stolenNS are attributed time subtracted only from clock_task; both
// deltas are clamped non-negative.
func (rq *Runqueue) UpdateClock(nowNS, irqNS, stolenNS int64) {
	delta := nowNS - rq.clock
	if delta < 0 {
		delta = 0
	}
	rq.clock += delta

	taskDelta := delta - irqNS - stolenNS
	if taskDelta < 0 {
		taskDelta = 0
	}
	rq.clockTask += taskDelta
}

// Clock returns rq.clock.
func (rq *Runqueue) Clock() int64 { return rq.clock }

// ClockTask returns rq.clock_task.
func (rq *Runqueue) ClockTask() int64 { return rq.clockTask }

// SetSkip records the yield hint used by choose_next.
func (rq *Runqueue) SetSkip(t *Task) { rq.skip = t }

// ClearSkip clears the yield hint.
func (rq *Runqueue) ClearSkip() { rq.skip = nil }

// Skip returns the current yield hint, or nil.
func (rq *Runqueue) Skip() *Task { return rq.skip }

// SetCurrent sets rq.curr, used by the scheduler core around a switch.
func (rq *Runqueue) SetCurrent(t *Task) { rq.curr = t }
