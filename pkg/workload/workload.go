package workload

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/bmqsched/pkg/sched"
	"github.com/khryptorgraphics/bmqsched/pkg/trace"
)

// StepKind names the synthetic operations a Workload can replay (§SPEC_FULL
// 13). Each maps onto one Scheduler host operation.
type StepKind string

const (
	StepFork           StepKind = "fork"
	StepWake           StepKind = "wake"
	StepSleep          StepKind = "sleep"
	StepTick           StepKind = "tick"
	StepYield          StepKind = "yield"
	StepMigrate        StepKind = "migrate"
	StepPriorityChange StepKind = "priority_change"
)

// Step is one declarative workload instruction.
type Step struct {
	Kind       StepKind `yaml:"kind" json:"kind"`
	TaskID     string   `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	Policy     string   `yaml:"policy,omitempty" json:"policy,omitempty"`
	Nice       int      `yaml:"nice,omitempty" json:"nice,omitempty"`
	RTPriority int      `yaml:"rt_priority,omitempty" json:"rt_priority,omitempty"`
	CPU        int      `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	CPUs       []int    `yaml:"cpus,omitempty" json:"cpus,omitempty"`
}

// Workload is an ordered list of steps to replay against a Scheduler.
type Workload struct {
	Steps []Step `yaml:"steps" json:"steps"`
}

// Driver replays a Workload against a Scheduler at a bounded rate,
// emitting a trace.Event for each step. Pacing uses golang.org/x/time/rate
// so a large declarative workload can be replayed in real time without a
// caller-managed sleep loop.
type Driver struct {
	sched    *sched.Scheduler
	exporter trace.Exporter
	limiter  *rate.Limiter

	tasks map[string]*sched.Task
}

// NewDriver builds a Driver pacing steps at stepsPerSecond (0 disables
// pacing, running as fast as possible — useful for tests).
func NewDriver(s *sched.Scheduler, exporter trace.Exporter, stepsPerSecond float64) *Driver {
	var limiter *rate.Limiter
	if stepsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(stepsPerSecond), 1)
	}
	return &Driver{sched: s, exporter: exporter, limiter: limiter, tasks: make(map[string]*sched.Task)}
}

// Run replays every step in order, returning the first error encountered.
func (d *Driver) Run(ctx context.Context, wl Workload) error {
	for i, step := range wl.Steps {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		if err := d.runStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Kind, err)
		}
	}
	return nil
}

func (d *Driver) runStep(step Step) error {
	switch step.Kind {
	case StepFork:
		return d.fork(step)
	case StepWake:
		return d.wake(step)
	case StepSleep:
		return d.sleep(step)
	case StepTick:
		return d.tick(step)
	case StepYield:
		return d.yield(step)
	case StepMigrate:
		return d.migrate(step)
	case StepPriorityChange:
		return d.priorityChange(step)
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func (d *Driver) policyFor(s string) sched.Policy {
	switch s {
	case "BATCH":
		return sched.PolicyBatch
	case "IDLE":
		return sched.PolicyIdle
	case "RR":
		return sched.PolicyRR
	case "FIFO":
		return sched.PolicyFIFO
	default:
		return sched.PolicyNormal
	}
}

func (d *Driver) fork(step Step) error {
	if _, exists := d.tasks[step.TaskID]; exists {
		return fmt.Errorf("task %s already exists", step.TaskID)
	}
	mask := sched.FullCPUMask(d.sched.NCPU())
	if len(step.CPUs) > 0 {
		mask = sched.NewCPUMask(d.sched.NCPU())
		for _, cpu := range step.CPUs {
			mask.Set(cpu)
		}
	}
	child := sched.NewTask(step.TaskID, d.policyFor(step.Policy), step.Nice, step.RTPriority, mask)
	d.sched.SchedFork(child, nil)
	d.tasks[step.TaskID] = child
	d.emit(trace.Event{Kind: "fork", CPU: step.CPU, TaskID: step.TaskID})
	return nil
}

func (d *Driver) lookup(id string) (*sched.Task, error) {
	t, ok := d.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", id)
	}
	return t, nil
}

func (d *Driver) wake(step Step) error {
	t, err := d.lookup(step.TaskID)
	if err != nil {
		return err
	}
	if t.State == sched.StateNew {
		d.sched.WakeUpNewTask(t)
	} else {
		d.sched.WakeUp(t, []sched.State{sched.StateInterruptibleSleep, sched.StateUninterruptibleSleep})
	}
	d.emit(trace.Event{Kind: "wake", CPU: t.CPU(), TaskID: t.ID})
	return nil
}

func (d *Driver) sleep(step Step) error {
	t, err := d.lookup(step.TaskID)
	if err != nil {
		return err
	}
	t.State = sched.StateInterruptibleSleep
	d.sched.Schedule(t.CPU(), true, false)
	d.emit(trace.Event{Kind: "sleep", CPU: t.CPU(), TaskID: t.ID})
	return nil
}

func (d *Driver) tick(step Step) error {
	d.sched.SchedulerTick(step.CPU)
	d.sched.Schedule(step.CPU, false, false)
	d.emit(trace.Event{Kind: "tick", CPU: step.CPU})
	return nil
}

func (d *Driver) yield(step Step) error {
	t, err := d.lookup(step.TaskID)
	if err != nil {
		return err
	}
	d.sched.YieldCurrent(t.CPU())
	d.emit(trace.Event{Kind: "yield", CPU: t.CPU(), TaskID: t.ID})
	return nil
}

func (d *Driver) migrate(step Step) error {
	t, err := d.lookup(step.TaskID)
	if err != nil {
		return err
	}
	mask := sched.SingleCPUMask(d.sched.NCPU(), step.CPU)
	if err := d.sched.SetAffinity(t, mask); err != nil {
		return err
	}
	d.emit(trace.Event{Kind: "migrate", CPU: t.CPU(), TaskID: t.ID, OtherCPU: step.CPU})
	return nil
}

func (d *Driver) priorityChange(step Step) error {
	t, err := d.lookup(step.TaskID)
	if err != nil {
		return err
	}
	if err := d.sched.SetPolicy(t, d.policyFor(step.Policy), step.RTPriority, step.Nice); err != nil {
		return err
	}
	d.emit(trace.Event{Kind: "priority_change", CPU: t.CPU(), TaskID: t.ID})
	return nil
}

func (d *Driver) emit(ev trace.Event) {
	if d.exporter == nil {
		return
	}
	ev.At = time.Now()
	d.exporter.Emit(ev)
}
