package sched

import "math/bits"

// CPUMask is a fixed-width set of CPU ids, backed by 64-bit words. It is the
// currency the placement engine, topology masks, and watermark index trade
// in: cheap to copy, cheap to intersect, cheap to iterate.
type CPUMask struct {
	words []uint64
	nCPU  int
}

// NewCPUMask returns an empty mask sized for nCPU CPUs.
func NewCPUMask(nCPU int) CPUMask {
	return CPUMask{words: make([]uint64, (nCPU+63)/64), nCPU: nCPU}
}

// Set adds cpu to the mask.
func (m *CPUMask) Set(cpu int) {
	m.words[cpu/64] |= 1 << uint(cpu%64)
}

// Clear removes cpu from the mask.
func (m *CPUMask) Clear(cpu int) {
	m.words[cpu/64] &^= 1 << uint(cpu%64)
}

// Contains reports whether cpu is a member.
func (m CPUMask) Contains(cpu int) bool {
	if cpu < 0 || cpu >= m.nCPU {
		return false
	}
	return m.words[cpu/64]&(1<<uint(cpu%64)) != 0
}

// Empty reports whether the mask has no members.
func (m CPUMask) Empty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of member CPUs (nr_cpus_allowed for a task mask).
func (m CPUMask) Count() int {
	c := 0
	for _, w := range m.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Clone returns an independent copy.
func (m CPUMask) Clone() CPUMask {
	w := make([]uint64, len(m.words))
	copy(w, m.words)
	return CPUMask{words: w, nCPU: m.nCPU}
}

// And returns the intersection of m and other.
func (m CPUMask) And(other CPUMask) CPUMask {
	out := NewCPUMask(m.nCPU)
	for i := range out.words {
		out.words[i] = m.words[i] & other.words[i]
	}
	return out
}

// Or returns the union of m and other.
func (m CPUMask) Or(other CPUMask) CPUMask {
	out := NewCPUMask(m.nCPU)
	for i := range out.words {
		out.words[i] = m.words[i] | other.words[i]
	}
	return out
}

// First returns the lowest-numbered member CPU, or (-1, false) if empty.
func (m CPUMask) First() (int, bool) {
	for wi, w := range m.words {
		if w != 0 {
			cpu := wi*64 + bits.TrailingZeros64(w)
			if cpu < m.nCPU {
				return cpu, true
			}
		}
	}
	return -1, false
}

// ForEach calls fn for every member CPU in ascending order.
func (m CPUMask) ForEach(fn func(cpu int)) {
	for cpu := 0; cpu < m.nCPU; cpu++ {
		if m.Contains(cpu) {
			fn(cpu)
		}
	}
}

// FullCPUMask returns a mask with every CPU in [0, nCPU) set.
func FullCPUMask(nCPU int) CPUMask {
	m := NewCPUMask(nCPU)
	for i := 0; i < nCPU; i++ {
		m.Set(i)
	}
	return m
}

// SingleCPUMask returns a mask containing exactly one CPU.
func SingleCPUMask(nCPU, cpu int) CPUMask {
	m := NewCPUMask(nCPU)
	m.Set(cpu)
	return m
}
