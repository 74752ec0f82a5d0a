package sched

import "errors"

// Sentinel errors surfaced at the edges (§7). The core itself never
// "fails" on internal state transitions; these are returned only by
// operations that validate caller-supplied input or look up a task by id.
var (
	ErrInvalid  = errors.New("sched: invalid argument")
	ErrPerm     = errors.New("sched: operation not permitted")
	ErrNoSuchTask = errors.New("sched: no such task")
	ErrNoMemory = errors.New("sched: allocation failed")
)
