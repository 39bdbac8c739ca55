// Package scheduler owns the armed alarm set. It keeps one one-shot timer per
// pending alarm, delivers each alarm at most once, expands repeating alarms
// into successors anchored on the original schedule, and reconciles the armed
// set against full snapshots supplied by callers.
//
// All state lives in a single Scheduler value guarded by one mutex. Every
// operation completes against memory before returning. Side effects
// (Delivered, Reported) are handed to a Sink on their own goroutine; the
// scheduler never waits for them and a failing sink never changes alarm
// state.
//
// Each arm takes a fresh value from a monotonically increasing generation
// counter. A timer callback only acts when the entry for its id still carries
// the generation it was armed with, so a callback that was already in flight
// when Cancel or a re-arm ran does nothing.
package scheduler
