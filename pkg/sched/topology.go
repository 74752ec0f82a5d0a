package sched

// Topology describes the proximity structure of a fixed set of CPUs,
// built once at start-of-day (§4.4). Each CPU gets an ordered sequence of
// masks: SMT siblings, then LLC/core-group peers, then die peers, then
// every other online CPU — used to bound placement and migration search
// radius without walking the whole machine on every decision.
type Topology struct {
	nCPU     int
	smt      []CPUMask // per-cpu: siblings excluding self
	llc      []CPUMask // per-cpu: LLC/core-group peers excluding self and smt
	die      []CPUMask // per-cpu: die peers excluding the above
	all      []CPUMask // per-cpu: every other online CPU
	hasSMT   bool
}

// TopologyConfig describes the grouping used to build a Topology: each CPU
// is assigned an SMT-group id, an LLC-group id, and a die id. CPUs sharing
// a group id at a given level are peers at that level.
type TopologyConfig struct {
	NCPU     int
	SMTGroup []int // len NCPU
	LLCGroup []int // len NCPU
	DieGroup []int // len NCPU
}

// FlatTopologyConfig returns a single-level configuration (no SMT, one LLC,
// one die) — every CPU is an equal-distance peer of every other. Suitable
// for simulating a simple multi-core host with no SMT.
func FlatTopologyConfig(nCPU int) TopologyConfig {
	smt := make([]int, nCPU)
	for i := range smt {
		smt[i] = i
	}
	zero := make([]int, nCPU)
	return TopologyConfig{NCPU: nCPU, SMTGroup: smt, LLCGroup: zero, DieGroup: zero}
}

// NewTopology builds a Topology from a config.
func NewTopology(cfg TopologyConfig) *Topology {
	n := cfg.NCPU
	t := &Topology{
		nCPU: n,
		smt:  make([]CPUMask, n),
		llc:  make([]CPUMask, n),
		die:  make([]CPUMask, n),
		all:  make([]CPUMask, n),
	}
	for cpu := 0; cpu < n; cpu++ {
		t.smt[cpu] = NewCPUMask(n)
		t.llc[cpu] = NewCPUMask(n)
		t.die[cpu] = NewCPUMask(n)
		t.all[cpu] = NewCPUMask(n)
		for other := 0; other < n; other++ {
			if other == cpu {
				continue
			}
			switch {
			case cfg.SMTGroup[other] == cfg.SMTGroup[cpu]:
				t.smt[cpu].Set(other)
				t.hasSMT = true
			case cfg.LLCGroup[other] == cfg.LLCGroup[cpu]:
				t.llc[cpu].Set(other)
			case cfg.DieGroup[other] == cfg.DieGroup[cpu]:
				t.die[cpu].Set(other)
			default:
				t.all[cpu].Set(other)
			}
		}
	}
	return t
}

// HasSMT reports whether any CPU has a nonempty SMT sibling set.
func (t *Topology) HasSMT() bool { return t.hasSMT }

// Siblings returns cpu's SMT sibling mask (excluding itself).
func (t *Topology) Siblings(cpu int) CPUMask { return t.smt[cpu] }

// Levels returns, in proximity order, the masks a placement/migration walk
// should probe outward from cpu: SMT siblings, LLC peers, die peers, then
// all remaining online CPUs.
func (t *Topology) Levels(cpu int) []CPUMask {
	return []CPUMask{t.smt[cpu], t.llc[cpu], t.die[cpu], t.all[cpu]}
}

// BestMaskCPU implements best_mask_cpu(from, candidates): if from is itself
// a candidate, return it; otherwise walk topology levels outward from from
// and return the first candidate member encountered. Returns (-1, false) if
// candidates is empty.
func (t *Topology) BestMaskCPU(from int, candidates CPUMask) (int, bool) {
	if from >= 0 && candidates.Contains(from) {
		return from, true
	}
	if from >= 0 {
		for _, level := range t.Levels(from) {
			if cpu, ok := level.And(candidates).First(); ok {
				return cpu, true
			}
		}
	}
	return candidates.First()
}
