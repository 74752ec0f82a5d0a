package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryToWakeUpRejectsDisallowedState(t *testing.T) {
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.State = StateRunning

	result := tryToWakeUp(task, []State{StateInterruptibleSleep}, nil, nil)
	assert.False(t, result.Woken)
}

func TestTryToWakeUpRemoteWakeAlreadyQueued(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.State = StateInterruptibleSleep
	rq.Enqueue(task)

	result := tryToWakeUp(task, []State{StateInterruptibleSleep},
		func(cpu int) *Runqueue { return rq },
		func(candidate *Task) (int, bool) {
			t.Fatal("selectTarget should not run for an already-queued task")
			return 0, false
		},
	)
	assert.True(t, result.Woken)
	assert.Equal(t, StateRunning, task.State)
}

func TestTryToWakeUpFullWakeEnqueuesOnSelectedTarget(t *testing.T) {
	rq0 := newTestRunqueue(0, 12)
	rq1 := newTestRunqueue(1, 12)
	rqs := map[int]*Runqueue{0: rq0, 1: rq1}

	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.State = StateInterruptibleSleep
	task.cpu = 0

	result := tryToWakeUp(task, []State{StateInterruptibleSleep},
		func(cpu int) *Runqueue { return rqs[cpu] },
		func(t *Task) (int, bool) { return 1, true },
	)

	require.True(t, result.Woken)
	assert.True(t, result.Migrated)
	assert.Equal(t, 1, result.TargetCPU)
	assert.Equal(t, StateRunning, task.State)
	assert.Equal(t, OnRQQueued, task.OnRQ)
	assert.Equal(t, 1, task.CPU())
}

func TestTryToWakeUpNoTargetLeavesTaskSleeping(t *testing.T) {
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.State = StateInterruptibleSleep

	result := tryToWakeUp(task, []State{StateInterruptibleSleep},
		func(cpu int) *Runqueue { return nil },
		func(t *Task) (int, bool) { return 0, false },
	)
	assert.False(t, result.Woken)
	assert.Equal(t, StateInterruptibleSleep, task.State)
}

func TestStateAllowed(t *testing.T) {
	assert.True(t, stateAllowed(StateInterruptibleSleep, []State{StateInterruptibleSleep, StateUninterruptibleSleep}))
	assert.False(t, stateAllowed(StateRunning, []State{StateInterruptibleSleep}))
}
