/*
Package types defines the validated data shapes shared by every CCCC
component: the event envelope and its closed kind set, chat message
payloads, group and actor records, per-group settings, automation
rulesets, and the stable IPC error taxonomy.

The package carries no behavior beyond validation and JSON round-trip
rules. Two forward-compatibility rules apply everywhere:

  - Unknown event kinds are skipped (and counted) during projection,
    never treated as corruption.
  - Unknown JSON fields on settings are preserved across a read/write
    round-trip so newer daemons can hand state back to older ones.

Event ids are group-local, zero-padded sequence numbers ("e-0000000042")
so that lexicographic comparison of ids equals commit order. Everything
downstream (read cursors, inbox suffixes, subscription replay) relies on
that property.
*/
package types
