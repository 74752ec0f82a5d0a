package sched

import (
	"fmt"
	"sync"
)

// YieldType selects yield_current's behaviour (§6 configuration).
type YieldType int

const (
	YieldNoop YieldType = iota
	YieldDeboostRequeue
	YieldSetSkip
)

// Config bundles the compile/boot-time tunables enumerated in §6.
type Config struct {
	NCPU        int
	TimesliceNS int64
	ReschedNS   int64
	MaxAdj      int
	YieldType   YieldType
	MigrationCap int
	Topology    TopologyConfig
}

// DefaultConfig returns a Config with the spec's stated defaults for an
// nCPU, flat-topology host.
func DefaultConfig(nCPU int) Config {
	return Config{
		NCPU:         nCPU,
		TimesliceNS:  4_000_000,
		ReschedNS:    100_000,
		MaxAdj:       12,
		YieldType:    YieldDeboostRequeue,
		MigrationCap: MigrationCap,
		Topology:     FlatTopologyConfig(nCPU),
	}
}

// Scheduler is the host-facing facade: it owns one Runqueue per CPU, the
// shared Watermark index, Topology, and Placement engine, and exposes the
// operations listed in §6. Every operation that touches more than one
// task or RQ acquires locks in the §5 order: task.mu (pi_lock stand-in)
// before any RQ lock, source RQ lock before destination RQ lock, with the
// source released before the destination is acquired on migration.
type Scheduler struct {
	cfg Config

	rqs       []*Runqueue
	topo      *Topology
	watermark *Watermark
	placement *Placement

	clock   Clock
	ipi     IPISender
	stopper Stopper
	online  CPUOnlineChecker

	tasksMu sync.RWMutex
	tasks   map[string]*Task

	idleTaskSeq int
}

// New constructs a Scheduler with nCPU runqueues, each seeded with its own
// idle task, using the given collaborators. A nil collaborator falls back
// to an in-process default (useful for tests and the workload driver).
func New(cfg Config, clock Clock, ipi IPISender, stopper Stopper, online CPUOnlineChecker) *Scheduler {
	if clock == nil {
		clock = &monotonicClock{}
	}
	if ipi == nil {
		ipi = noopIPI{}
	}
	if stopper == nil {
		stopper = inlineStopper{}
	}
	if online == nil {
		online = alwaysOnline{n: cfg.NCPU}
	}

	topo := NewTopology(cfg.Topology)
	wm := NewWatermark(cfg.NCPU, cfg.MaxAdj)
	s := &Scheduler{
		cfg:       cfg,
		rqs:       make([]*Runqueue, cfg.NCPU),
		topo:      topo,
		watermark: wm,
		placement: NewPlacement(topo, wm, online, cfg.MaxAdj),
		clock:     clock,
		ipi:       ipi,
		stopper:   stopper,
		online:    online,
		tasks:     make(map[string]*Task),
	}

	for cpu := 0; cpu < cfg.NCPU; cpu++ {
		rq := NewRunqueue(cpu, cfg.MaxAdj, cfg.TimesliceNS, cfg.ReschedNS)
		idle := NewTask(fmt.Sprintf("idle/%d", cpu), PolicyIdle, MaxNice, 0, SingleCPUMask(cfg.NCPU, cpu))
		idle.State = StateRunning
		rq.AttachIdle(idle)
		s.rqs[cpu] = rq
		s.publishWatermark(rq)
	}
	return s
}

// NCPU returns the number of CPUs this scheduler manages.
func (s *Scheduler) NCPU() int { return s.cfg.NCPU }

// RQ returns the runqueue for cpu (exported for the workload driver and
// tests, which need to drive per-CPU ticks directly).
func (s *Scheduler) RQ(cpu int) *Runqueue { return s.rqs[cpu] }

func (s *Scheduler) publishWatermark(rq *Runqueue) {
	best := rq.bestBucket()
	siblingsIdle := s.siblingGroupIdle(rq.CPU())
	s.watermark.Advertise(rq.CPU(), best, siblingsIdle)
}

// siblingGroupIdle reports whether every CPU in cpu's SMT sibling set
// (plus cpu itself) is currently running only its idle task. Caller may or
// may not hold cpu's own RQ lock; siblings' nrRunning reads are lock-free
// and tolerate staleness like every other watermark input.
func (s *Scheduler) siblingGroupIdle(cpu int) bool {
	if !s.topo.HasSMT() {
		return false
	}
	selfRQ := s.rqs[cpu]
	if selfRQ.NrRunning() > 1 {
		return false
	}
	allIdle := true
	s.topo.Siblings(cpu).ForEach(func(sib int) {
		if s.rqs[sib].NrRunning() > 1 {
			allIdle = false
		}
	})
	return allIdle
}

func (s *Scheduler) registerTask(t *Task) {
	s.tasksMu.Lock()
	s.tasks[t.ID] = t
	s.tasksMu.Unlock()
}

// Lookup resolves a task id, per the ESRCH contract in §7.
func (s *Scheduler) Lookup(id string) (*Task, error) {
	s.tasksMu.RLock()
	t, ok := s.tasks[id]
	s.tasksMu.RUnlock()
	if !ok {
		return nil, ErrNoSuchTask
	}
	return t, nil
}

// SchedFork implements sched_fork(t, clone_flags) (§6): assigns the
// child's initial priority state, pessimistic boost, and half the
// parent's remaining timeslice, and registers it with the scheduler.
// Activation happens separately via WakeUpNewTask.
func (s *Scheduler) SchedFork(child, parent *Task) {
	RecomputeNormalPrio(child, s.cfg.MaxAdj)
	child.BoostPrio = s.cfg.MaxAdj
	if parent != nil {
		child.TimeSliceNS = parent.TimeSliceNS / 2
		child.CPUsMask = parent.CPUsMask.Clone()
		child.NrCPUsAllowed = child.CPUsMask.Count()
	} else {
		child.TimeSliceNS = s.cfg.TimesliceNS / 2
	}
	child.State = StateNew
	s.registerTask(child)
}

// WakeUpNewTask implements wake_up_new_task(t) (§6): place the new task on
// a target CPU and enqueue it, without the full try_to_wake_up dance
// (there is no prior state to race with).
func (s *Scheduler) WakeUpNewTask(t *Task) {
	target, ok := s.placement.SelectTarget(t, s.cfg.NCPU)
	if !ok {
		target = 0
	}
	t.setCPU(target)
	rq := s.rqs[target]
	rq.Lock()
	rq.UpdateClock(s.clock.NowNS(target), 0, 0)
	rq.Enqueue(t)
	t.State = StateRunning
	resched := checkPreemptCurr(rq, t)
	s.publishWatermark(rq)
	rq.Unlock()
	if resched {
		s.ipi.SendReschedule(target)
	}
}

// SchedExit implements sched_exit(t) (§6): mark the task DEAD; actual
// cleanup (decrementing refs) happens on the next context switch on its
// CPU, mirroring the source's deferred-reap design.
func (s *Scheduler) SchedExit(t *Task) {
	t.mu.Lock()
	t.State = StateDead
	t.mu.Unlock()
}

// WakeUp implements wake_up(t, state_mask) -> bool (§4.7, §6).
func (s *Scheduler) WakeUp(t *Task, allowedStates []State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := tryToWakeUp(t, allowedStates,
		func(cpu int) *Runqueue { return s.rqs[cpu] },
		func(t *Task) (int, bool) { return s.placement.SelectTarget(t, s.cfg.NCPU) },
	)
	if !result.Woken {
		return false
	}
	rq := s.rqs[result.TargetCPU]
	rq.Lock()
	s.publishWatermark(rq)
	rq.Unlock()
	if result.NeedsResched {
		s.ipi.SendReschedule(result.TargetCPU)
	}
	return true
}

// SchedulerTick implements scheduler_tick() (§6): invoked by the host's
// timer interrupt simulation at fixed HZ for a given CPU.
func (s *Scheduler) SchedulerTick(cpu int) {
	rq := s.rqs[cpu]
	rq.Lock()
	defer rq.Unlock()
	rq.UpdateClock(s.clock.NowNS(cpu), 0, 0)
	checkCurr(rq, rq.curr, s.cfg.MaxAdj, s.cfg.TimesliceNS, s.cfg.ReschedNS)
	s.publishWatermark(rq)
}

// Schedule implements schedule() (§4.6): the main dispatcher entry point
// for CPU cpu, invoked with preemption disabled by convention of the
// caller. blocking indicates a voluntary block (state already changed
// away from RUNNING) as opposed to a tick-driven preemption.
func (s *Scheduler) Schedule(cpu int, blocking, signalPending bool) (prev, next *Task) {
	rq := s.rqs[cpu]
	rq.Lock()
	defer rq.Unlock()

	rq.UpdateClock(s.clock.NowNS(cpu), 0, 0)
	prev = rq.curr

	if blocking && prev != nil && prev.State != StateRunning {
		choosePrev(rq, prev, s.cfg.MaxAdj, s.clock.NowNS(cpu), signalPending)
	}

	checkCurr(rq, rq.curr, s.cfg.MaxAdj, s.cfg.TimesliceNS, s.cfg.ReschedNS)

	next = chooseNext(rq)
	if next == rq.idle && s.online.Online(cpu) {
		if moved := s.pullOnto(rq); moved > 0 {
			next = chooseNext(rq)
		}
	}

	if next != prev {
		if prev != nil {
			storeReleaseInt32(&prev.OnCPU, 0)
		}
		rq.SetCurrent(next)
		storeReleaseInt32(&next.OnCPU, 1)
		next.LastSwitchNS = s.clock.NowNS(cpu)
		if prev != nil && prev.State == StateDead {
			s.reap(prev)
		}
	}
	s.publishWatermark(rq)
	return prev, next
}

// pullOnto attempts an idle pull for rq using try-lock semantics over the
// other scheduler-owned RQs (§4.8).
func (s *Scheduler) pullOnto(rq *Runqueue) int {
	return TryPull(rq, s.topo, s.rqs, func(src *Runqueue) bool {
		if src == rq {
			return false
		}
		return src.mu.TryLock()
	})
}

func (s *Scheduler) reap(t *Task) {
	s.tasksMu.Lock()
	delete(s.tasks, t.ID)
	s.tasksMu.Unlock()
}

// SetPolicy implements set_policy(t, policy, rt_prio, nice) (§6), with the
// EINVAL validation described in §7.
func (s *Scheduler) SetPolicy(t *Task, policy Policy, rtPriority, nice int) error {
	if policy.IsRealtime() && (rtPriority < 1 || rtPriority > 99) {
		return ErrInvalid
	}
	if !policy.IsRealtime() && rtPriority != 0 {
		return ErrInvalid
	}
	if nice < MinNice || nice > MaxNice {
		return ErrInvalid
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rq := s.rqs[t.CPU()]
	rq.Lock()
	defer rq.Unlock()

	t.Policy = policy
	t.RTPriority = rtPriority
	t.StaticPrio = NiceToStaticPrio(nice)
	RecomputeNormalPrio(t, s.cfg.MaxAdj)

	if t.OnRQ == OnRQQueued {
		if moved, _ := rq.Requeue(t); moved {
			s.publishWatermark(rq)
		}
	}
	return nil
}

// SetAffinity implements set_affinity(t, mask) (§4.8, §6).
func (s *Scheduler) SetAffinity(t *Task, mask CPUMask) error {
	if mask.Empty() {
		return ErrInvalid
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rq := s.rqs[t.CPU()]
	rq.Lock()
	change := SetCPUsAllowed(t, mask, rq)
	rq.Unlock()

	switch change {
	case AffinityForceStop:
		cpu := t.CPU()
		s.stopper.StopOneCPU(cpu, func() {
			s.forceMigrate(t)
		})
	case AffinityRequeue:
		s.forceMigrate(t)
	}
	return nil
}

// forceMigrate relocates a task that is queued (or was just forced off
// its CPU by the stopper) onto a watermark-preferred destination within
// its current affinity mask.
func (s *Scheduler) forceMigrate(t *Task) {
	srcCPU := t.CPU()
	src := s.rqs[srcCPU]
	src.Lock()
	if t.OnRQ == OnRQQueued {
		src.Dequeue(t)
	}
	s.publishWatermark(src)
	src.Unlock()

	target, ok := s.placement.SelectTarget(t, s.cfg.NCPU)
	if !ok {
		target = srcCPU
	}
	t.setCPU(target)
	dst := s.rqs[target]
	dst.Lock()
	dst.UpdateClock(s.clock.NowNS(target), 0, 0)
	dst.Enqueue(t)
	s.publishWatermark(dst)
	dst.Unlock()
}

// TaskPrio implements task_prio(t).
func (s *Scheduler) TaskPrio(t *Task) int { return t.Prio }

// TaskRuntimeNS implements task_runtime_ns(t): time consumed since the
// last full slice refill, derived from how much of the base timeslice has
// been spent.
func (s *Scheduler) TaskRuntimeNS(t *Task) int64 {
	return s.cfg.TimesliceNS - t.TimeSliceNS
}

// IdleCPU implements idle_cpu(cpu).
func (s *Scheduler) IdleCPU(cpu int) bool {
	rq := s.rqs[cpu]
	return rq.curr == rq.idle
}

// NrRunning implements nr_running(cpu).
func (s *Scheduler) NrRunning(cpu int) int { return s.rqs[cpu].NrRunning() }

// SetEffectivePrio implements set_effective_prio(t, donor_or_null) (§6):
// the priority-inheritance hook. Re-derives t.Prio from EffectivePrio and,
// if t is queued, re-files it and republishes the watermark; if that makes
// t outrank whoever runs on its CPU, requests a reschedule.
func (s *Scheduler) SetEffectivePrio(t *Task, donor *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Donor = donor
	newPrio := EffectivePrio(t)
	if newPrio == t.Prio {
		return false
	}
	t.Prio = newPrio

	if t.OnRQ != OnRQQueued {
		return false
	}

	rq := s.rqs[t.CPU()]
	rq.Lock()
	defer rq.Unlock()

	moved, _ := rq.Requeue(t)
	if moved {
		s.publishWatermark(rq)
	}
	resched := checkPreemptCurr(rq, t)
	if resched {
		s.ipi.SendReschedule(t.CPU())
	}
	return resched
}

// YieldCurrent implements yield_current(mode) (§6), driven by the
// scheduler's configured YieldType.
func (s *Scheduler) YieldCurrent(cpu int) {
	rq := s.rqs[cpu]
	rq.Lock()
	defer rq.Unlock()

	curr := rq.curr
	if curr == nil || curr == rq.idle {
		return
	}

	switch s.cfg.YieldType {
	case YieldNoop:
		return
	case YieldDeboostRequeue:
		if !curr.Policy.IsRealtime() {
			curr.BoostPrio = s.cfg.MaxAdj
		}
		if moved, _ := rq.Requeue(curr); !moved {
			rq.RequeueSameBucket(curr)
		}
		s.publishWatermark(rq)
	case YieldSetSkip:
		rq.SetSkip(curr)
	}
}
