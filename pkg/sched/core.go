package sched

// This file implements the central choose/switch routine, boost/deboost
// policy, timeslice accounting and preemption checks (§4.6). It operates
// on a single Runqueue at a time; the Scheduler type (scheduler.go) holds
// the per-CPU RQs plus the shared Watermark/Placement/Topology and is the
// only caller of these functions, always with rq.lock held.

// boostOnBlock applies the "boost on blocking-descheduled" rule: if t held
// the CPU only briefly since its last dispatch, and policy/boost floor
// permit, nudge boost_prio one step more urgent.
func boostOnBlock(t *Task, maxAdj int, nowNS int64) {
	if t.Policy.IsRealtime() || t.Policy == PolicyRR {
		return
	}
	floor := PolicyFloor(t.Policy, maxAdj)
	if t.BoostPrio <= floor {
		return
	}
	threshold := BoostThresholdNS(t.TimeSliceNS, maxAdj, t.BoostPrio)
	if nowNS-t.LastSwitchNS < threshold {
		t.BoostPrio--
	}
}

// deboostOnExpiry applies the "deboost on timeslice exhaustion" rule.
func deboostOnExpiry(t *Task, maxAdj int) {
	if t.Policy.IsRealtime() {
		return
	}
	if t.BoostPrio < maxAdj {
		t.BoostPrio++
	}
}

// updateCurr accounts elapsed clock_task time against the current task's
// remaining timeslice (the update_curr() reference in §4.6). deltaNS must
// be the clock_task advance since the task was last accounted.
func updateCurr(t *Task, deltaNS int64, clockTaskNS int64) {
	if deltaNS <= 0 {
		return
	}
	t.TimeSliceNS -= deltaNS
	t.LastRanNS = clockTaskNS
}

// needsResched reports whether t's remaining slice has fallen below
// RESCHED_NS.
func needsResched(t *Task, reschedNS int64) bool {
	return t.TimeSliceNS < reschedNS
}

// refillSlice resets a task's timeslice to the configured base (used on
// expiry and on fork).
func refillSlice(t *Task, timesliceNS int64) {
	t.TimeSliceNS = timesliceNS
}

// checkPreemptCurr implements check_preempt_curr(t) (§4.6): request a
// reschedule if the RQ is currently idling, or if t is now the head of the
// PBQ and is not already the current task. RT-vs-RT never preempts on equal priority
// because PBQ.First returns the head of a FIFO-ordered bucket 0 — t only
// reaches the head if it is strictly more urgent or arrived first.
func checkPreemptCurr(rq *Runqueue, t *Task) bool {
	curr := rq.curr
	if curr == nil || curr == rq.idle {
		return true
	}
	head := rq.pbq.First()
	return head == t && t != curr
}

// choosePrev is invoked at the top of schedule() when the call is a
// voluntary block rather than a preemption (§4.6 step 3): if prev is still
// runnable (a signal cancelled the sleep), leave it queued; otherwise
// boost it and deactivate it from the RQ.
func choosePrev(rq *Runqueue, prev *Task, maxAdj int, nowNS int64, signalPending bool) {
	if prev == rq.idle {
		return
	}
	if signalPending {
		prev.State = StateRunning
		return
	}
	boostOnBlock(prev, maxAdj, nowNS)
	if prev.State == StateUninterruptibleSleep {
		rq.nrUninterruptible++
		prev.Uninterruptible = true
	}
	rq.Dequeue(prev)
}

// checkCurr accounts prev's runtime and, if its slice expired, refills,
// deboosts (unless RR), and requeues it at the tail of its (possibly
// unchanged) bucket (§4.6 step 5, timeslice expiry paragraph). FIFO tasks
// are charged like any other but return before the refill, so they are
// never refilled, deboosted or requeued on expiry.
func checkCurr(rq *Runqueue, prev *Task, maxAdj int, timesliceNS, reschedNS int64) {
	if prev == rq.idle || prev.OnRQ != OnRQQueued {
		return
	}
	delta := rq.ClockTask() - prev.LastRanNS
	updateCurr(prev, delta, rq.ClockTask())
	if prev.Policy == PolicyFIFO {
		return
	}
	if !needsResched(prev, reschedNS) {
		return
	}
	refillSlice(prev, timesliceNS)
	if prev.Policy != PolicyRR {
		deboostOnExpiry(prev, maxAdj)
	}
	if moved, _ := rq.Requeue(prev); !moved {
		rq.RequeueSameBucket(prev)
	}
}

// chooseNext implements choose_next (§4.6): honor a pending skip hint,
// otherwise take PBQ.First(); the idle task is always a valid fallback
// because it is permanently resident. Callers attempt a migration pull
// themselves when the result is idle (see balance.go); chooseNext does not
// reach across RQs.
func chooseNext(rq *Runqueue) *Task {
	if rq.skip != nil {
		skip := rq.skip
		rq.ClearSkip()
		if next := rq.pbq.NextAfter(skip); next != nil {
			return next
		}
	}
	if next := rq.pbq.First(); next != nil {
		return next
	}
	return rq.idle
}
