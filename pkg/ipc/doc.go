// Package ipc is the daemon's wire protocol: length-prefixed JSON
// frames over a unix socket, with an optional token-guarded loopback
// TCP listener.
//
// Every port speaks the same closed operation set. Requests on one
// connection execute in arrival order; subscriptions stream committed
// events concurrently, with optional catch-up replay from a ledger id.
// Slow subscribers are dropped with a lagged error rather than allowed
// to stall the daemon.
package ipc
