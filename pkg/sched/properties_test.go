package sched

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPropertyPBQBitConsistency checks P1 across arbitrary insert/remove
// orderings: bitmap bit i is set iff bucket i is non-empty, after every
// mutation, not just in the fixed scenarios covered elsewhere in this
// package.
func TestPropertyPBQBitConsistency(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("bitmap tracks bucket occupancy through insert and remove", prop.ForAll(
		func(nices []int) bool {
			q := NewPBQ(12)
			tasks := make([]*Task, len(nices))
			for i, nice := range nices {
				tasks[i] = newTestTask("t", PolicyNormal, nice, 0, 12)
				q.Insert(tasks[i])
				if !bitmapMatchesBuckets(q) {
					return false
				}
			}
			for _, task := range tasks {
				q.Remove(task)
				if !bitmapMatchesBuckets(q) {
					return false
				}
			}
			return q.Empty()
		},
		gen.SliceOf(gen.IntRange(MinNice, MaxNice)),
	))

	properties.TestingRun(t)
}

func bitmapMatchesBuckets(q *PBQ) bool {
	for i := range q.buckets {
		bitSet := q.occupied.test(i)
		bucketNonEmpty := q.buckets[i].Len() > 0
		if bitSet != bucketNonEmpty {
			return false
		}
	}
	return true
}

// TestPropertyWatermarkTracksAdvertisedLevel checks P2: after any sequence
// of Advertise calls, each CPU appears only in the level mask it last
// advertised, never stale ones.
func TestPropertyWatermarkTracksAdvertisedLevel(t *testing.T) {
	const nCPU = 6
	const maxAdj = 12

	properties := gopter.NewProperties(nil)

	properties.Property("a CPU is present only in the level mask it last advertised", prop.ForAll(
		func(steps []int) bool {
			w := NewWatermark(nCPU, maxAdj)
			idle := idleBucketFor(maxAdj)

			for i, v := range steps {
				cpu := i % nCPU
				bucket := v % (idle + 1)
				if bucket < 0 {
					bucket = -bucket
				}
				w.Advertise(cpu, bucket, false)
			}

			for cpu := 0; cpu < nCPU; cpu++ {
				level := w.cur[cpu]
				if level < 0 {
					continue
				}
				if !w.masks[level].Contains(cpu) {
					return false
				}
				for l := range w.masks {
					if l != level && w.masks[l].Contains(cpu) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 64)),
	))

	properties.TestingRun(t)
}

// TestPropertyClockMonotonic checks P6: rq.clock and rq.clock_task never
// decrease across any sequence of UpdateClock calls, regardless of how
// irqNS/stolenNS are split against the raw advance.
func TestPropertyClockMonotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("clock and clock_task are monotonic non-decreasing", prop.ForAll(
		func(advances []int) bool {
			rq := newTestRunqueue(0, 12)
			now := rq.Clock()
			prevClock, prevClockTask := rq.Clock(), rq.ClockTask()
			for _, a := range advances {
				now += int64(a)
				rq.UpdateClock(now, 0, 0)
				if rq.Clock() < prevClock || rq.ClockTask() < prevClockTask {
					return false
				}
				prevClock, prevClockTask = rq.Clock(), rq.ClockTask()
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10_000_000)),
	))

	properties.TestingRun(t)
}

// TestPropertyTimesliceRoundTrip checks P7: whenever a non-FIFO, non-RR
// task's slice expires and is refilled, the runtime consumed since the
// previous refill is bounded by RESCHED_NS below and by one accounting
// step above — it never drifts further regardless of how many small steps
// it took to get there.
func TestPropertyTimesliceRoundTrip(t *testing.T) {
	const timesliceNS = int64(4_000_000)
	const reschedNS = int64(100_000)

	properties := gopter.NewProperties(nil)

	properties.Property("consumed runtime at refill is bounded by the last accounting step", prop.ForAll(
		func(deltas []int) bool {
			task := newTestTask("t", PolicyNormal, 0, 0, 12)
			refillSlice(task, timesliceNS)

			var consumed int64
			var clockTask int64
			for _, d := range deltas {
				delta := int64(d)
				clockTask += delta
				updateCurr(task, delta, clockTask)
				consumed += delta

				if needsResched(task, reschedNS) {
					if consumed <= timesliceNS-reschedNS {
						return false
					}
					if consumed > timesliceNS-reschedNS+delta {
						return false
					}
					refillSlice(task, timesliceNS)
					consumed = 0
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 500_000)),
	))

	properties.TestingRun(t)
}
