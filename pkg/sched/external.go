package sched

// Clock is the monotonic per-CPU time source the core consumes (§6). Real
// deployments wire a single shared monotonic clock; tests and the
// workload driver can substitute a controllable fake.
type Clock interface {
	NowNS(cpu int) int64
}

// IPISender delivers a best-effort reschedule notification to a CPU. It
// may race with the target CPU's own decisions and may be dropped on
// hot-unplug; the core never depends on it for correctness, only latency.
type IPISender interface {
	SendReschedule(cpu int)
}

// Stopper synchronously forces a CPU to run fn(arg) at a priority higher
// than anything scheduler-controlled, used for forced migration (affinity
// shrink, SMT active-balance). Must not return until fn has run.
type Stopper interface {
	StopOneCPU(cpu int, fn func())
}

// CPUOnlineChecker reports the online/active state of CPUs. Active is
// always a subset of online; both are observed lock-free.
type CPUOnlineChecker interface {
	Online(cpu int) bool
	Active(cpu int) bool
}

// HRTimer arms and cancels a one-shot per-CPU timer used to deliver
// preemption deadlines. Not currently exercised by the core's decision
// logic directly — RESCHED_NS is evaluated inline on the tick path — but
// kept as an external seam for hosts that want a true deadline timer
// instead of tick polling.
type HRTimer interface {
	Start(cpu int, ns int64, fn func())
	Cancel(cpu int)
}

// noopIPI, noopStopper and friends give callers (tests, simple CLIs) a
// working default without requiring every collaborator to be wired.
type noopIPI struct{}

func (noopIPI) SendReschedule(cpu int) {}

type inlineStopper struct{}

func (inlineStopper) StopOneCPU(cpu int, fn func()) { fn() }

type alwaysOnline struct{ n int }

func (a alwaysOnline) Online(cpu int) bool { return cpu >= 0 && cpu < a.n }
func (a alwaysOnline) Active(cpu int) bool { return cpu >= 0 && cpu < a.n }

// monotonicClock is a simple Clock backed by an explicit counter rather
// than wall time, so replay is deterministic. Advance must be called by
// the host driving the simulation (the tick loop).
type monotonicClock struct {
	ns int64
}

func (c *monotonicClock) NowNS(cpu int) int64 { return c.ns }

func (c *monotonicClock) Advance(delta int64) {
	if delta > 0 {
		c.ns += delta
	}
}
