/*
Package events implements the in-process fan-out of committed ledger
events to subscribers: the delivery engine, IPC subscriptions, and the
IM bridge adapters.

The broker decouples the single writer from an arbitrary number of
readers. Subscribers get a bounded buffer; one that stops draining is
dropped with an explicit lagged signal instead of stalling commits, and
is expected to re-sync by reading the ledger from its last seen id.
Events are delivered to every surviving subscriber in commit order
because the broker consumes from a single ordered channel.
*/
package events
