package sched

// MigrationCap bounds how many tasks a single pull moves in one batch
// (§6 configuration, §4.8).
const MigrationCap = 32

// pendingMask returns the set of CPUs whose nr_running > 1 (candidates to
// pull from). The caller supplies rqs so this stays free of any global
// lock; each RQ's nrRunning is read without that RQ's lock, tolerating
// staleness exactly as the watermark does (§4.8, §5).
func pendingMask(rqs []*Runqueue) CPUMask {
	n := len(rqs)
	m := NewCPUMask(n)
	for _, rq := range rqs {
		if rq.IsPending() {
			m.Set(rq.CPU())
		}
	}
	return m
}

// migrateBatch implements migrate_batch(src, dst) (§4.8): walk src's PBQ
// in priority order, skip the currently running task and tasks whose
// affinity excludes dst, and move up to min(ceil(nr/2), MigrationCap)
// eligible tasks. Caller must hold both src.lock and dst.lock (src's lock
// was acquired via try-lock before this call, per §4.8's single-depth
// nesting rule).
func migrateBatch(src, dst *Runqueue) int {
	limit := (src.NrRunning() + 1) / 2
	if limit > MigrationCap {
		limit = MigrationCap
	}
	if limit <= 0 {
		return 0
	}

	moved := 0
	// Walk from the most urgent occupied bucket forward, re-reading
	// PBQ.First after each removal since bucket occupancy shifts.
	var skipList []*Task
	for moved < limit {
		t := src.pbq.First()
		if t == nil || t == src.idle {
			break
		}
		if t == src.curr || t.NrCPUsAllowed <= 1 || !t.CPUsMask.Contains(dst.CPU()) {
			src.pbq.Remove(t)
			skipList = append(skipList, t)
			continue
		}
		src.Dequeue(t)
		dst.Enqueue(t)
		moved++
	}
	for _, t := range skipList {
		src.pbq.Insert(t)
	}
	return moved
}

// TryPull attempts an idle pull for dst (§4.8): walk dst's topology levels
// outward, intersect each with the pending mask, try-lock each candidate
// source RQ without blocking, and migrate a batch on the first successful
// acquisition. lockTry must attempt to lock src and report whether it
// succeeded; it must leave src unlocked on failure.
func TryPull(dst *Runqueue, topo *Topology, rqs []*Runqueue, lockTry func(src *Runqueue) bool) int {
	pending := pendingMask(rqs)
	for _, level := range topo.Levels(dst.CPU()) {
		candidates := level.And(pending)
		moved := 0
		candidates.ForEach(func(cpu int) {
			if moved > 0 {
				return
			}
			src := rqs[cpu]
			if !lockTry(src) {
				return
			}
			moved = migrateBatch(src, dst)
			src.Unlock()
		})
		if moved > 0 {
			return moved
		}
	}
	return 0
}

// SMTActiveBalanceCandidate identifies, for a CPU that just became part of
// an idle sibling group, a sibling whose single running task could be
// force-migrated onto the now-idle group (§4.8 SMT active-balance). It
// returns the task and the sibling CPU it should move to, or (nil, -1) if
// no such pair exists.
func SMTActiveBalanceCandidate(selfCPU int, topo *Topology, rqs []*Runqueue, siblingIdle CPUMask) (*Task, int) {
	siblings := topo.Siblings(selfCPU)
	var found *Task
	destCPU := -1
	siblings.ForEach(func(sib int) {
		if found != nil {
			return
		}
		rq := rqs[sib]
		if rq.NrRunning() > 2 || rq.curr == nil || rq.curr == rq.idle {
			return
		}
		if siblingIdle.Contains(selfCPU) && rq.curr.CPUsMask.Contains(selfCPU) {
			found = rq.curr
			destCPU = selfCPU
		}
	})
	return found, destCPU
}

// SetCPUsAllowed implements set_cpus_allowed(t, mask) (§4.8): update the
// task's affinity mask under the caller-held locks (t.mu and t's current
// RQ lock), and report what kind of relocation the host must now arrange:
// a forced migration via Stopper if t is currently running somewhere no
// longer allowed, or a requeue onto a newly chosen CPU if merely queued.
type AffinityChange int

const (
	AffinityNoAction AffinityChange = iota
	AffinityForceStop
	AffinityRequeue
)

func SetCPUsAllowed(t *Task, mask CPUMask, rq *Runqueue) AffinityChange {
	t.CPUsMask = mask
	t.NrCPUsAllowed = mask.Count()

	if !mask.Contains(t.CPU()) {
		if t.IsOnCPU() {
			return AffinityForceStop
		}
		if t.OnRQ == OnRQQueued {
			return AffinityRequeue
		}
	}
	return AffinityNoAction
}
