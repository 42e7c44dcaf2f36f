// Package daemon assembles the CCCC runtime and implements the closed
// IPC operation set against it.
//
// One Daemon owns everything: the ledger store, the projection, the
// runner supervisor, the delivery engine, the automation scheduler, and
// the IPC server. Every mutation flows through a single commit path
// (append, project, fan out), so components observe one event order and
// a restart that replays the ledger reconstructs the same state. Op
// handlers do the read-modify-write under a per-group lock; permission
// and lifecycle gates run before any commit.
package daemon
