// Package store provides the optional session journal for coagent-demo.
//
// # Overview
//
// The journal records what happened inside shell sessions so operators can
// review it after the fact:
//
//   - interrupt_decisions: every approve/reject, one row per interrupt
//   - action_invocations: frontend actions the agent called and their results
//   - state_snapshots: the shared state document after each agent update
//
// # Backends
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode. The
// schema is created on open. Timestamps are stored as fixed-width UTC text
// so lexical ordering matches time ordering.
//
// MemoryJournal keeps a bounded tail of decisions and invocations plus the
// latest snapshot per agent. It backs the gateway when database.path is
// empty, so the latest state stays queryable without a database.
//
// NopJournal discards everything. The shell falls back to it when built
// without a journal.
//
//	j, err := store.NewSQLiteStore("data/journal.db")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
// # Errors
//
//   - ErrNotFound: LatestSnapshot found no row for the agent
package store
