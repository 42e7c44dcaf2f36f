// Package runner supervises agent sessions.
//
// A PTY runner spawns the agent command attached to a pseudo-terminal,
// keeps a rolling transcript of its output, and injects rendered
// messages by writing to the terminal followed by the runtime's submit
// key. A headless runner owns no process; the agent polls its inbox and
// the runner tracks liveness from the last poll.
//
// The supervisor owns all runners, reaps orphaned processes left by a
// previous daemon, and reports lifecycle transitions through a callback
// so the daemon can record them in the ledger.
package runner
