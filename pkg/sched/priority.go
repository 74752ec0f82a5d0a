package sched

// Priority scheme (§3, §4.6).
//
// MaxRTPrio RT priorities occupy bucket 0 as a single shared bucket,
// tie-broken by insertion order on effective prio (§4.1). Non-RT priorities
// are nice-mapped into an absolute integer range above MaxRTPrio and then
// folded with BoostPrio into a PBQ bucket index. MaxAdj is configurable
// (spec default 12); NiceWidth is fixed at 40 (nice -20..19).
const (
	MaxRTPrio = 100
	NiceWidth = 40
	MinNice   = -20
	MaxNice   = 19
)

// NiceToStaticPrio maps a nice value to the absolute static_prio integer
// used throughout the core: static_prio = MaxRTPrio + (nice + 20), so
// static_prio ranges over [MaxRTPrio, MaxRTPrio+NiceWidth).
func NiceToStaticPrio(nice int) int {
	if nice < MinNice {
		nice = MinNice
	}
	if nice > MaxNice {
		nice = MaxNice
	}
	return MaxRTPrio + nice - MinNice
}

// idleBucket and bucketCount depend on MaxAdj, which is a scheduler-wide
// configuration value (not per-task), so they are computed once by the
// owning Scheduler and threaded through PBQ/Runqueue construction.

// idleBucketFor returns IDLE_BUCKET for a scheduler configured with the
// given MaxAdj.
func idleBucketFor(maxAdj int) int {
	// Non-RT buckets occupy [1, 1+NiceWidth+2*maxAdj-1]; bucket 0 is RT;
	// IDLE_BUCKET is the first index after the non-RT range.
	return 1 + NiceWidth + 2*maxAdj
}

// bucketCountFor returns N = IDLE_BUCKET + 1 for the given MaxAdj.
func bucketCountFor(maxAdj int) int {
	return idleBucketFor(maxAdj) + 1
}

// computeNormalPrio derives normal_prio from policy/static/rt_priority,
// independent of any PI boosting (§4.6).
func computeNormalPrio(t *Task) int {
	if t.Policy.IsRealtime() {
		return MaxRTPrio - 1 - t.RTPriority
	}
	return t.StaticPrio + defaultMaxAdjHint
}

// defaultMaxAdjHint is used only by computeNormalPrio as the "+MAX_ADJ"
// baseline offset the spec assigns to non-RT normal_prio; the scheduler
// overwrites it at recomputation time with its configured MaxAdj via
// RecomputeNormalPrio, so this constant only matters before a task has ever
// been attached to a Scheduler.
const defaultMaxAdjHint = 12

// RecomputeNormalPrio recomputes t.NormalPrio and, if the task is not
// PI-boosted, t.Prio, using the scheduler's configured MaxAdj.
func RecomputeNormalPrio(t *Task, maxAdj int) {
	if t.Policy.IsRealtime() {
		t.NormalPrio = MaxRTPrio - 1 - t.RTPriority
	} else {
		t.NormalPrio = t.StaticPrio + maxAdj
	}
	if t.Donor == nil {
		t.Prio = t.NormalPrio
	}
}

// EffectivePrio returns the donor's priority when t is PI-boosted and that
// is more urgent than t's own normal_prio, else t's normal_prio (§6
// pi_effective_prio contract).
func EffectivePrio(t *Task) int {
	if t.Donor != nil && t.Donor.Prio < t.NormalPrio {
		return t.Donor.Prio
	}
	return t.NormalPrio
}

// isRTBucket reports whether t's current effective prio places it in the
// shared RT bucket (true both for actual RT-policy tasks and for a non-RT
// task currently PI-boosted above the RT threshold).
func isRTBucket(t *Task) bool {
	return t.Prio < MaxRTPrio
}

// SchedPrio computes t's PBQ bucket index (§4.6) for a scheduler configured
// with the given MaxAdj and idleBucket.
func SchedPrio(t *Task, maxAdj, idleBucket int) int {
	if isRTBucket(t) {
		return 0
	}
	bucket := 1 + (t.Prio - MaxRTPrio) + t.BoostPrio
	if bucket < 1 {
		bucket = 1
	}
	if bucket > idleBucket {
		bucket = idleBucket
	}
	return bucket
}

// ClampBoost clamps a boost_prio adjustment to [-maxAdj, maxAdj].
func ClampBoost(boost, maxAdj int) int {
	if boost > maxAdj {
		return maxAdj
	}
	if boost < -maxAdj {
		return -maxAdj
	}
	return boost
}

// PolicyFloor returns the lowest boost_prio policy permits a task to reach
// via the blocking-boost rule (§4.6): NORMAL can boost all the way to
// -MaxAdj, BATCH/IDLE_POLICY are floored at 0, RT is excluded entirely.
func PolicyFloor(p Policy, maxAdj int) int {
	switch p {
	case PolicyNormal:
		return -maxAdj
	case PolicyBatch, PolicyIdle:
		return 0
	default:
		return 0
	}
}

// BoostThresholdNS returns the run-streak threshold below which a
// blocking-descheduled task earns a boost (§4.6): TIMESLICE_NS >> (10 -
// MaxAdj - boost_prio).
func BoostThresholdNS(timesliceNS int64, maxAdj, boostPrio int) int64 {
	shift := 10 - maxAdj - boostPrio
	if shift < 0 {
		shift = 0
	}
	if shift > 62 {
		return 0
	}
	return timesliceNS >> uint(shift)
}
