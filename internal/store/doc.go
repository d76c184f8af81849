// Package store provides persistent storage for pairwire using SQLite.
//
// # Data Models
//
//   - Thread: one participant's conversation endpoint. Its id is namespaced
//     by the originating frontend ("<frontend>|<local-id>") and is never
//     reused. Status moves connecting -> connected -> closed; closed is
//     terminal.
//   - Chat: a pairing of exactly two threads, with per-side opt-in flags for
//     the consensus-gated shared mode and a last-activity timestamp. Closed
//     chats are retained so the anti-repeat block set can be computed from
//     them until the cool-down window elapses.
//
// # Invariants
//
// A thread appears in at most one open chat at a time, and pairing is
// all-or-nothing: both threads flip to connected and the chat row is
// inserted inside a single transaction (PairThreads). The guarded UPDATEs
// make concurrent pairing attempts mutually exclusive without any
// in-process lock, so the invariants hold even with multiple service
// instances sharing one database.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist (often benign)
//   - ErrConflict: a guarded update lost a race with a concurrent caller
//   - ErrThreadClosed: attempted transition out of the terminal status
//   - ErrStorage: wraps all driver-level failures; callers may retry once
//
// All methods accept context.Context for cancellation support.
package store
