package sched

import "sync/atomic"

// The wake path (§4.7) and the outgoing-switch path (§4.6 step 7) rely on an
// explicit acquire/release pair around Task.OnCPU rather than a full lock:
// the outgoing scheduler release-stores 0 after it is done touching the
// task, and the waker acquire-loads until it observes that release. Go's
// sync/atomic package gives sequentially-consistent operations, which is a
// strictly stronger (and therefore safe) substitute for the acquire/release
// pair the spec describes; we name the wrappers after the ordering they
// provide so the intent at each call site stays legible.

func loadAcquireInt32(addr *int32) int32 {
	return atomic.LoadInt32(addr)
}

func storeReleaseInt32(addr *int32, val int32) {
	atomic.StoreInt32(addr, val)
}
