package sched

// Watermark is the process-wide index described in §4.3: one CPUMask per
// priority level L, plus a bitmap of which levels are currently non-empty.
// A level is derived from a PBQ bucket index by L = IDLE_BUCKET -
// bucket_idx + 1, so RT's shared bucket 0 maps to the highest level and the
// idle bucket maps to L=1. Level 0 is reserved for the SMT "sibling-group
// idle" marker (§4.3), not part of the linear bucket->level mapping.
//
// Writes are serialized per-CPU by that CPU's RQ lock (I5); reads are
// lock-free and tolerate staleness, since the caller re-validates under the
// target RQ's own lock on arrival.
type Watermark struct {
	nCPU       int
	idleBucket int
	nLevels    int

	masks []CPUMask   // index: level
	top   wordBitmap  // bit set iff masks[level] non-empty
	cur   []int       // per-cpu: level currently advertised

	siblingIdle CPUMask // level 0: CPUs whose entire SMT sibling group is idle
}

// LevelIdle is the watermark level a CPU advertises when its PBQ holds only
// the idle task.
func LevelIdle() int { return 1 }

// NewWatermark builds an index for nCPU CPUs and a scheduler configured
// with maxAdj (which determines IDLE_BUCKET and therefore N_LEVELS).
func NewWatermark(nCPU, maxAdj int) *Watermark {
	idle := idleBucketFor(maxAdj)
	nLevels := idle + 2 // level 0 (sibling-idle) .. level IDLE_BUCKET+1 (RT)
	w := &Watermark{
		nCPU:       nCPU,
		idleBucket: idle,
		nLevels:    nLevels,
		masks:      make([]CPUMask, nLevels),
		top:        newWordBitmap(nLevels),
		cur:        make([]int, nCPU),
		siblingIdle: NewCPUMask(nCPU),
	}
	for i := range w.masks {
		w.masks[i] = NewCPUMask(nCPU)
	}
	for cpu := range w.cur {
		w.cur[cpu] = -1
	}
	return w
}

// levelForBucket maps a PBQ bucket index to a watermark level.
func (w *Watermark) levelForBucket(bucketIdx int) int {
	return w.idleBucket - bucketIdx + 1
}

// Advertise updates cpu's slot to reflect that its PBQ's best bucket is now
// bucketIdx. siblingsIdle indicates whether cpu's entire SMT sibling group
// is presently idle (caller computes this from topology + other RQs'
// published idle state); it only has an effect when bucketIdx is the idle
// bucket. Callers must hold the owning RQ's lock.
func (w *Watermark) Advertise(cpu, bucketIdx int, siblingsIdle bool) {
	newLevel := w.levelForBucket(bucketIdx)
	oldLevel := w.cur[cpu]

	if oldLevel == newLevel && w.siblingIdle.Contains(cpu) == (bucketIdx == w.idleBucket && siblingsIdle) {
		return
	}

	if oldLevel >= 0 && oldLevel != newLevel {
		w.masks[oldLevel].Clear(cpu)
		if w.masks[oldLevel].Empty() {
			w.top.clear(oldLevel)
		}
	}
	if oldLevel != newLevel {
		w.masks[newLevel].Set(cpu)
		w.top.set(newLevel)
		w.cur[cpu] = newLevel
	}

	if bucketIdx == w.idleBucket && siblingsIdle {
		w.siblingIdle.Set(cpu)
	} else {
		w.siblingIdle.Clear(cpu)
	}
}

// FindLevelLE scans for the lowest non-empty level <= L and returns its
// CPU mask and true, or an empty mask and false if no such level exists.
func (w *Watermark) FindLevelLE(l int) (CPUMask, bool) {
	idx, ok := w.top.firstSetUpTo(l)
	if !ok {
		return CPUMask{}, false
	}
	return w.masks[idx], true
}

// LevelOf returns the watermark level equivalent to a task of the given
// PBQ bucket index — the caller scans levels [0, LevelOf) for CPUs that
// can preempt a task at that bucket (§4.5 step 2).
func (w *Watermark) LevelOf(bucketIdx int) int {
	return w.levelForBucket(bucketIdx)
}

// SiblingIdleMask returns the set of CPUs whose entire SMT sibling group is
// currently idle (watermark level 0).
func (w *Watermark) SiblingIdleMask() CPUMask {
	return w.siblingIdle.Clone()
}

// NLevels returns N_LEVELS for this index.
func (w *Watermark) NLevels() int { return w.nLevels }
