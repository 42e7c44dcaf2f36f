// Package delivery fans committed chat events out to actors and runs
// the built-in nudge policies.
//
// The engine consumes each committed event once and rebuilds the rest
// of its state from projections on every 1 Hz tick, so a dropped or
// delayed notification is recovered on the next tick rather than lost.
// Injections to a PTY actor respect the group's minimum delivery
// interval; throttled events coalesce into one digest injection.
// Nudges for the same recipient within a tick coalesce into a single
// system.notify listing every reason, gated by the per-recipient digest
// interval, escalated to attention after repeated windows, and capped
// per obligation.
package delivery
