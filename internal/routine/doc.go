// Package routine is the scheduling and lifecycle engine for recurring routines.
//
// A Routine pairs a named action with a Rule that computes how long to wait
// before the next run. Each registered routine is driven by its own Runner
// (run, compute delay, sleep, repeat) under a Manager that starts all runners
// concurrently and cancels them together on shutdown.
//
// Failure policy:
//   - a duplicate routine name is a ConfigurationError at Register time
//   - an action error or panic is logged and counted; the loop keeps going
//   - cancellation ends a runner cleanly and is never logged as a failure
package routine
