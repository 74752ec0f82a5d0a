package sched

// try_to_wake_up (§4.7). The Scheduler type is the only caller; it owns
// the per-task pi_lock stand-in (Task.mu) and the RQ locks, and acquires
// them in the order mandated by §5: pi_lock, then RQ lock.

// WakeResult reports what a wake attempt did, for callers that need to
// know whether a remote reschedule IPI should follow.
type WakeResult struct {
	Woken        bool
	TargetCPU    int
	Migrated     bool
	NeedsResched bool
}

// tryToWakeUp is the pure decision core of try_to_wake_up; it assumes the
// caller already holds t.mu (the pi_lock stand-in) and performs its own RQ
// locking via the supplied accessors. allowedStates is the mask of states
// from which a wake is legal (e.g. interruptible-only, or
// interruptible+uninterruptible).
//
// rqFor resolves a CPU id to its Runqueue; selectTarget picks the
// destination CPU for a task not already on_rq.
func tryToWakeUp(
	t *Task,
	allowedStates []State,
	rqFor func(cpu int) *Runqueue,
	selectTarget func(t *Task) (int, bool),
) WakeResult {
	if !stateAllowed(t.State, allowedStates) {
		return WakeResult{}
	}

	if t.OnRQ == OnRQQueued {
		// Remote wake: task is already linked into some RQ's PBQ.
		rq := rqFor(t.CPU())
		rq.Lock()
		defer rq.Unlock()
		if t.OnRQ != OnRQQueued {
			return WakeResult{}
		}
		t.State = StateRunning
		return WakeResult{Woken: true, TargetCPU: t.CPU()}
	}

	// Wait for the outgoing scheduler's release-store of on_cpu before
	// touching state further (§4.7 step 3, §5 ordering guarantee).
	for t.IsOnCPU() {
		// bounded spin; the outgoing CPU always clears this promptly.
	}

	t.State = StateWaking

	target, ok := selectTarget(t)
	if !ok {
		t.State = StateInterruptibleSleep
		return WakeResult{}
	}

	migrated := target != t.CPU()
	if migrated {
		t.OnRQ = OnRQMigrating
		storeReleaseInt32(&t.OnCPU, 0) // publish the new ownership intent
		t.setCPU(target)
	}

	rq := rqFor(target)
	rq.Lock()
	newBucket := rq.Enqueue(t)
	t.State = StateRunning
	resched := checkPreemptCurr(rq, t)
	rq.Unlock()
	_ = newBucket

	return WakeResult{Woken: true, TargetCPU: target, Migrated: migrated, NeedsResched: resched}
}

func stateAllowed(s State, allowed []State) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
