// Package pairing matches waiting threads into chats.
//
// The engine works against the store only; it holds no in-process locks.
// Candidate claiming happens inside a single store transaction, so two
// concurrent pairing attempts can never both claim the same candidate even
// across multiple service instances sharing one database.
//
// Anti-repeat: each requester carries an optional opaque owner token. The
// engine computes a block set of tokens the requester recently chatted with
// (within the cool-down window) and refuses to pair them again until the
// window elapses. Participants without a token skip this filtering
// entirely; that is the intended permissive fallback, not a gap.
package pairing
