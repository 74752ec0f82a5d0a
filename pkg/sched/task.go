package sched

import (
	"container/list"
	"sync"
	"time"
)

// Policy is a task's scheduling class. The source models this as a fixed
// small tagged variant rather than an inheritance hierarchy (see DESIGN.md).
type Policy int

const (
	PolicyNormal Policy = iota
	PolicyBatch
	PolicyIdle
	PolicyRR
	PolicyFIFO
)

func (p Policy) String() string {
	switch p {
	case PolicyNormal:
		return "NORMAL"
	case PolicyBatch:
		return "BATCH"
	case PolicyIdle:
		return "IDLE"
	case PolicyRR:
		return "RR"
	case PolicyFIFO:
		return "FIFO"
	default:
		return "UNKNOWN"
	}
}

// IsRealtime reports whether the policy is one of the realtime classes.
func (p Policy) IsRealtime() bool {
	return p == PolicyRR || p == PolicyFIFO
}

// State is a task's scheduling state.
type State int

const (
	StateRunning State = iota
	StateInterruptibleSleep
	StateUninterruptibleSleep
	StateWaking
	StateNew
	StateDead
)

// OnRQState captures whether and how a task is linked into a runqueue.
type OnRQState int

const (
	OnRQOff OnRQState = iota
	OnRQQueued
	OnRQMigrating
)

// Task is the externally-owned schedulable entity the core reads and writes
// by contract (§3). The core never allocates Tasks; callers do (fork,
// workload replay, tests) and hand the core a pointer.
type Task struct {
	ID   string
	Name string

	mu sync.Mutex // stands in for the external per-task pi_lock (§5)

	Policy       Policy
	StaticPrio   int // nice mapped to an absolute integer, see priority.go
	RTPriority   int // only meaningful for RR/FIFO
	NormalPrio   int // computed from policy/static/rt_priority, PI-independent
	Prio         int // effective priority; smaller = more urgent
	BoostPrio    int // signed adjustment, non-RT only, in [-MaxAdj, MaxAdj]
	QueueIdx     int // PBQ bucket currently filed under; valid iff OnRQ == Queued
	TimeSliceNS  int64
	LastRanNS    int64
	LastSwitchNS int64

	State State
	OnRQ  OnRQState
	OnCPU int32 // atomic: 1 while executing on some CPU, 0 otherwise

	CPUsMask      CPUMask
	NrCPUsAllowed int

	// Donor is the task this one is currently inheriting priority from via
	// PI, or nil. Set only through SetEffectivePrio.
	Donor *Task

	cpu  int // task_cpu(t): the RQ currently owning this task
	node *list.Element

	Uninterruptible bool // counted in nr_uninterruptible while blocked
	IOWait          bool

	CreatedAt time.Time
}

// NewTask constructs a task in the NEW state with the given policy and
// priority inputs. cpusMask must already be sized for the scheduler's CPU
// count; pass FullCPUMask(nCPU) for an unconstrained task.
func NewTask(id string, policy Policy, nice, rtPriority int, cpusMask CPUMask) *Task {
	t := &Task{
		ID:            id,
		Policy:        policy,
		StaticPrio:    NiceToStaticPrio(nice),
		RTPriority:    rtPriority,
		BoostPrio:     0,
		State:         StateNew,
		OnRQ:          OnRQOff,
		CPUsMask:      cpusMask,
		NrCPUsAllowed: cpusMask.Count(),
		cpu:           -1,
		CreatedAt:     time.Now(),
	}
	return t
}

// CPU returns the CPU this task is currently associated with (task_cpu(t)).
func (t *Task) CPU() int { return t.cpu }

func (t *Task) setCPU(cpu int) { t.cpu = cpu }

// IsOnCPU reports whether the task is presently executing (acquire load).
func (t *Task) IsOnCPU() bool { return loadAcquireInt32(&t.OnCPU) == 1 }
