package sched

// Placement selects a target CPU for a task, consuming the Watermark and
// Topology (§4.5). It holds no mutable state of its own; it is a pure
// function of the inputs it's given, bundled into a type so the Scheduler
// can swap in the online/active checker.
type Placement struct {
	topo   *Topology
	wm     *Watermark
	online CPUOnlineChecker
	maxAdj int
}

// NewPlacement builds a Placement engine over the given topology,
// watermark index and online/active checker. maxAdj must match the
// Scheduler's configured value so bucket math agrees with the Watermark.
func NewPlacement(topo *Topology, wm *Watermark, online CPUOnlineChecker, maxAdj int) *Placement {
	return &Placement{topo: topo, wm: wm, online: online, maxAdj: maxAdj}
}

// onlineMask returns the set of currently online CPUs.
func (p *Placement) onlineMask(nCPU int) CPUMask {
	m := NewCPUMask(nCPU)
	for cpu := 0; cpu < nCPU; cpu++ {
		if p.online.Online(cpu) {
			m.Set(cpu)
		}
	}
	return m
}

// SelectTarget implements select_target(t) (§4.5): prefer a CPU on which t
// can preempt (its best bucket maps to a lighter watermark level than t's
// own), scanning levels from the lightest up, falling back to topology-nearest among all allowed CPUs, with the
// §4.5.1 escalation when no allowed CPU is online.
func (p *Placement) SelectTarget(t *Task, nCPU int) (int, bool) {
	online := p.onlineMask(nCPU)
	allowed := t.CPUsMask.And(online)

	if allowed.Empty() {
		return p.fallback(t, nCPU, online)
	}

	lPreempt := p.wm.LevelOf(SchedPrio(t, p.maxAdj, p.wm.idleBucket))

	for l := 0; l < lPreempt; l++ {
		candidates := allowed.And(p.wm.masks[l])
		if !candidates.Empty() {
			return p.topo.BestMaskCPU(t.CPU(), candidates)
		}
	}

	return p.topo.BestMaskCPU(t.CPU(), allowed)
}

// fallback implements §4.5.1: no online-allowed CPU. Probe the task's
// full allowed set ignoring onlineness first (covers transient online-mask
// staleness), then any online CPU at all; if still nothing, the caller has
// a configuration bug and we return false so the host can decide how to
// escalate (the core itself never panics on this path).
func (p *Placement) fallback(t *Task, nCPU int, online CPUMask) (int, bool) {
	if cpu, ok := t.CPUsMask.First(); ok {
		return cpu, true
	}
	if cpu, ok := online.First(); ok {
		return cpu, true
	}
	return -1, false
}
