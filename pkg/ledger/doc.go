// Package ledger implements durable per-group event logs.
//
// Each group owns an append-only JSONL file that is the source of truth
// for everything in the group: chat, acknowledgements, lifecycle, and
// settings changes all land here as events with monotonically increasing
// ids. A content-addressed blob store next to the log holds attachment
// and snapshot payloads so events stay small. Reads use independent file
// handles and never block the writer.
//
// On open the store repairs a torn tail (a partial last line from a
// crash mid-write) by truncating it and recording a ledger.recovered
// event. Compaction replaces a prefix of the log with one synthetic
// snapshot event referencing serialized projection state in the blob
// store.
package ledger
