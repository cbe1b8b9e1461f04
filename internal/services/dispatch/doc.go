// Package dispatch executes one send cycle for one user on one timer tick.
//
// A cycle checks preconditions (user exists, provider session usable), asks
// the eligibility filter for the currently sendable templates and targets,
// waits a randomized human-pacing delay, performs the provider send, and
// converts the outcome into an audit record plus, on provider errors, a
// quarantine mutation. A cycle with nothing sendable is a no-op, not an error.
//
// The scheduler owns timers and stats; this package owns what happens inside
// a single tick.
package dispatch
