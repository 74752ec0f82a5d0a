package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoostOnBlockNudgesTowardUrgent(t *testing.T) {
	maxAdj := 12
	task := newTestTask("t", PolicyNormal, 0, 0, maxAdj)
	task.TimeSliceNS = 4_000_000
	task.BoostPrio = 5
	task.LastSwitchNS = 1000

	boostOnBlock(task, maxAdj, 1000+BoostThresholdNS(task.TimeSliceNS, maxAdj, task.BoostPrio)-1)
	assert.Equal(t, 4, task.BoostPrio, "blocked quickly enough to earn one boost step")
}

func TestBoostOnBlockRespectsPolicyFloor(t *testing.T) {
	maxAdj := 12
	task := newTestTask("t", PolicyBatch, 0, 0, maxAdj)
	task.BoostPrio = 0 // already at BATCH's floor
	task.TimeSliceNS = 4_000_000
	task.LastSwitchNS = 0

	boostOnBlock(task, maxAdj, 1)
	assert.Equal(t, 0, task.BoostPrio, "BATCH cannot boost past its floor")
}

func TestBoostOnBlockSkipsRealtimeAndRR(t *testing.T) {
	maxAdj := 12
	rr := newTestTask("rr", PolicyRR, 0, 10, maxAdj)
	rr.BoostPrio = 5
	boostOnBlock(rr, maxAdj, 1_000_000_000)
	assert.Equal(t, 5, rr.BoostPrio, "RR never participates in boosting")
}

func TestDeboostOnExpiry(t *testing.T) {
	maxAdj := 12
	task := newTestTask("t", PolicyNormal, 0, 0, maxAdj)
	task.BoostPrio = 0
	deboostOnExpiry(task, maxAdj)
	assert.Equal(t, 1, task.BoostPrio)

	task.BoostPrio = maxAdj
	deboostOnExpiry(task, maxAdj)
	assert.Equal(t, maxAdj, task.BoostPrio, "clamped at maxAdj")
}

func TestUpdateCurrAndNeedsResched(t *testing.T) {
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.TimeSliceNS = 100_000
	updateCurr(task, 50_000, 999)
	assert.Equal(t, int64(50_000), task.TimeSliceNS)
	assert.Equal(t, int64(999), task.LastRanNS)

	assert.False(t, needsResched(task, 10_000))
	assert.True(t, needsResched(task, 60_000))
}

func TestRefillSlice(t *testing.T) {
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	task.TimeSliceNS = 10
	refillSlice(task, 4_000_000)
	assert.Equal(t, int64(4_000_000), task.TimeSliceNS)
}

func TestCheckPreemptCurrOnIdleAlwaysTrue(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	assert.True(t, checkPreemptCurr(rq, task), "RQ currently idling always yields to the new arrival")
}

func TestCheckPreemptCurrWhenTIsMostUrgent(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	curr := newTestTask("curr", PolicyNormal, 10, 0, 12)
	rq.Enqueue(curr)
	rq.SetCurrent(curr)

	urgent := newTestTask("urgent", PolicyFIFO, 0, 50, 12)
	rq.Enqueue(urgent)

	assert.True(t, checkPreemptCurr(rq, urgent), "RT task at head of PBQ should preempt a running NORMAL task")
}

func TestCheckCurrExpiresAndDeboostsNonRR(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	task := newTestTask("t", PolicyNormal, 0, 0, 12)
	rq.Enqueue(task)
	rq.SetCurrent(task)
	task.TimeSliceNS = 0
	task.LastRanNS = rq.ClockTask()
	task.BoostPrio = 0

	checkCurr(rq, task, 12, 4_000_000, 100_000)
	assert.Equal(t, int64(4_000_000), task.TimeSliceNS, "slice refilled on expiry")
	assert.Equal(t, 1, task.BoostPrio, "non-RR deboosts on expiry")
}

func TestCheckCurrDoesNotDeboostRR(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	task := newTestTask("t", PolicyRR, 0, 10, 12)
	rq.Enqueue(task)
	rq.SetCurrent(task)
	task.TimeSliceNS = 0
	task.LastRanNS = rq.ClockTask()

	checkCurr(rq, task, 12, 4_000_000, 100_000)
	assert.Equal(t, 0, task.BoostPrio, "RR rotates without deboosting")
}

func TestCheckCurrDoesNotRefillOrRequeueFIFO(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	task := newTestTask("t", PolicyFIFO, 0, 10, 12)
	other := newTestTask("o", PolicyFIFO, 0, 10, 12)
	rq.Enqueue(task)
	rq.Enqueue(other)
	rq.SetCurrent(task)
	task.TimeSliceNS = 0
	task.LastRanNS = rq.ClockTask()
	task.BoostPrio = 0

	require.Equal(t, task, rq.pbq.First(), "task is still head of bucket before checkCurr")
	checkCurr(rq, task, 12, 4_000_000, 100_000)
	assert.Equal(t, int64(0), task.TimeSliceNS, "FIFO slice is not refilled on expiry")
	assert.Equal(t, 0, task.BoostPrio, "FIFO is never deboosted on expiry")
	assert.Equal(t, task, rq.pbq.First(), "FIFO is not rotated to the tail on expiry")
}

func TestCheckCurrIgnoresIdleAndUnqueued(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	// idle is rq.curr by default via AttachIdle; must be a no-op.
	checkCurr(rq, rq.Idle(), 12, 4_000_000, 100_000)

	detached := newTestTask("d", PolicyNormal, 0, 0, 12)
	checkCurr(rq, detached, 12, 4_000_000, 100_000) // OnRQ == OnRQOff, must not panic or mutate
	assert.Equal(t, int64(0), detached.TimeSliceNS)
}

func TestChooseNextHonorsSkipHint(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	a := newTestTask("a", PolicyNormal, 0, 0, 12)
	b := newTestTask("b", PolicyNormal, 0, 0, 12)
	rq.Enqueue(a)
	rq.Enqueue(b)
	require.Equal(t, a.QueueIdx, b.QueueIdx)

	rq.SetSkip(a)
	next := chooseNext(rq)
	assert.Equal(t, b, next, "skip hint passes over a to its bucket successor")
	assert.Nil(t, rq.Skip(), "skip hint consumed")
}

func TestChooseNextFallsBackToIdle(t *testing.T) {
	rq := newTestRunqueue(0, 12)
	next := chooseNext(rq)
	assert.Equal(t, rq.Idle(), next)
}
