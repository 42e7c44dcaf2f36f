// Package kernel maintains the in-memory projection over group ledgers
// and evaluates permissions before mutations.
//
// The projection folds committed events into group and actor records,
// per-principal read cursors, attention-ack and reply-obligation
// tables, and inbox views. Applying is deterministic, so rebuilding
// from the ledger on a cold start reproduces any prior warm state at
// the same commit point. Unknown event kinds are counted and skipped
// for forward compatibility.
package kernel
