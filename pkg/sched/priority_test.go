package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNiceToStaticPrio(t *testing.T) {
	assert.Equal(t, MaxRTPrio, NiceToStaticPrio(MinNice))
	assert.Equal(t, MaxRTPrio+NiceWidth-1, NiceToStaticPrio(MaxNice))
	assert.Equal(t, MaxRTPrio, NiceToStaticPrio(MinNice-5), "clamps below MinNice")
	assert.Equal(t, MaxRTPrio+NiceWidth-1, NiceToStaticPrio(MaxNice+5), "clamps above MaxNice")
}

func TestIdleBucketForAndBucketCountFor(t *testing.T) {
	maxAdj := 12
	idle := idleBucketFor(maxAdj)
	assert.Equal(t, 1+NiceWidth+2*maxAdj, idle)
	assert.Equal(t, idle+1, bucketCountFor(maxAdj))
}

func TestRecomputeNormalPrioRealtime(t *testing.T) {
	rt := NewTask("rt", PolicyFIFO, 0, 20, FullCPUMask(4))
	RecomputeNormalPrio(rt, 12)
	assert.Equal(t, MaxRTPrio-1-20, rt.NormalPrio)
	assert.Equal(t, rt.NormalPrio, rt.Prio)
}

func TestRecomputeNormalPrioNonRealtime(t *testing.T) {
	n := NewTask("n", PolicyNormal, 0, 0, FullCPUMask(4))
	RecomputeNormalPrio(n, 12)
	assert.Equal(t, n.StaticPrio+12, n.NormalPrio)
	assert.Equal(t, n.NormalPrio, n.Prio)
}

func TestRecomputeNormalPrioDoesNotOverwriteBoostedPrio(t *testing.T) {
	n := NewTask("n", PolicyNormal, 0, 0, FullCPUMask(4))
	donor := NewTask("donor", PolicyFIFO, 0, 50, FullCPUMask(4))
	RecomputeNormalPrio(donor, 12)
	n.Donor = donor
	n.Prio = donor.Prio

	RecomputeNormalPrio(n, 12)
	assert.Equal(t, donor.Prio, n.Prio, "PI-boosted task keeps donor's prio on recompute")
}

func TestEffectivePrio(t *testing.T) {
	n := NewTask("n", PolicyNormal, 0, 0, FullCPUMask(4))
	RecomputeNormalPrio(n, 12)
	assert.Equal(t, n.NormalPrio, EffectivePrio(n), "no donor: effective == normal")

	donor := NewTask("donor", PolicyFIFO, 0, 10, FullCPUMask(4))
	RecomputeNormalPrio(donor, 12)
	n.Donor = donor
	assert.Equal(t, donor.Prio, EffectivePrio(n), "donor more urgent than normal_prio wins")

	weakDonor := NewTask("weak", PolicyNormal, 10, 0, FullCPUMask(4))
	RecomputeNormalPrio(weakDonor, 12)
	n.Donor = weakDonor
	assert.Equal(t, n.NormalPrio, EffectivePrio(n), "donor less urgent than normal_prio is ignored")
}

func TestSchedPrioRTAlwaysBucketZero(t *testing.T) {
	rt := NewTask("rt", PolicyFIFO, 0, 5, FullCPUMask(4))
	RecomputeNormalPrio(rt, 12)
	assert.Equal(t, 0, SchedPrio(rt, 12, idleBucketFor(12)))
}

func TestSchedPrioIdleTaskReachesIdleBucket(t *testing.T) {
	maxAdj := 12
	idle := NewTask("idle", PolicyIdle, MaxNice, 0, FullCPUMask(4))
	idle.NormalPrio = MaxRTPrio + NiceWidth + 2*maxAdj
	idle.Prio = idle.NormalPrio

	assert.Equal(t, idleBucketFor(maxAdj), SchedPrio(idle, maxAdj, idleBucketFor(maxAdj)),
		"idle task must land exactly on IDLE_BUCKET, not be clamped below it")
}

func TestSchedPrioNonIdleNeverReachesIdleBucket(t *testing.T) {
	maxAdj := 12
	idleBucket := idleBucketFor(maxAdj)
	// Maximally deprioritized non-idle task: MaxNice static prio, fully
	// deboosted (BoostPrio == +maxAdj, the least urgent boost extreme).
	t1 := NewTask("t1", PolicyBatch, MaxNice, 0, FullCPUMask(4))
	RecomputeNormalPrio(t1, maxAdj)
	t1.BoostPrio = maxAdj

	bucket := SchedPrio(t1, maxAdj, idleBucket)
	assert.Less(t, bucket, idleBucket, "non-idle tasks never reach IDLE_BUCKET")
}

func TestSchedPrioClampsLowerBound(t *testing.T) {
	maxAdj := 12
	idleBucket := idleBucketFor(maxAdj)
	t1 := NewTask("t1", PolicyNormal, MinNice, 0, FullCPUMask(4))
	RecomputeNormalPrio(t1, maxAdj)
	t1.BoostPrio = -maxAdj

	bucket := SchedPrio(t1, maxAdj, idleBucket)
	assert.GreaterOrEqual(t, bucket, 1, "non-RT buckets never fall below 1")
}

func TestClampBoost(t *testing.T) {
	assert.Equal(t, 12, ClampBoost(20, 12))
	assert.Equal(t, -12, ClampBoost(-20, 12))
	assert.Equal(t, 5, ClampBoost(5, 12))
}

func TestPolicyFloor(t *testing.T) {
	assert.Equal(t, -12, PolicyFloor(PolicyNormal, 12))
	assert.Equal(t, 0, PolicyFloor(PolicyBatch, 12))
	assert.Equal(t, 0, PolicyFloor(PolicyIdle, 12))
	assert.Equal(t, 0, PolicyFloor(PolicyFIFO, 12))
}

func TestBoostThresholdNS(t *testing.T) {
	const timeslice = int64(4_000_000)
	assert.Equal(t, timeslice>>10, BoostThresholdNS(timeslice, 0, 0))
	assert.Equal(t, timeslice, BoostThresholdNS(timeslice, 10, 0))
	// Large negative shift clamps at 0 (full timeslice), not a panic or
	// negative shift.
	assert.Equal(t, timeslice, BoostThresholdNS(timeslice, 20, 20))
}
