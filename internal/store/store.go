// ABOUTME: Store interface and data types for pairwire persistence
// ABOUTME: Defines Thread, Chat structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update loses a race, e.g. a
// pairing candidate that was claimed by a concurrent pairing attempt.
var ErrConflict = errors.New("conflicting concurrent update")

// ErrThreadClosed is returned when attempting to move a thread out of the
// closed status. Closed is terminal; closed->closed is a no-op, not an error.
var ErrThreadClosed = errors.New("thread is closed")

// ErrStorage marks failures of the storage layer itself (connectivity,
// constraint violations, driver errors). Callers check it with errors.Is
// and treat it as retryable-once before surfacing a user-visible failure.
var ErrStorage = errors.New("storage failure")

// storagef wraps a driver error so it both carries the operation context
// and matches errors.Is(err, ErrStorage).
func storagef(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Thread status values. Transitions are monotonic:
// connecting -> connected -> closed, with connecting -> closed allowed
// (cancelled search). There is no transition out of closed.
const (
	StatusConnecting = "connecting"
	StatusConnected  = "connected"
	StatusClosed     = "closed"
)

// Thread represents one participant's conversation endpoint. The ID is
// namespaced by the originating frontend ("<frontend>|<frontend-local-id>")
// and is never reused.
type Thread struct {
	ID         string
	Status     string
	OwnerToken string // optional opaque identity, only used for anti-repeat
	CreatedAt  time.Time
}

// Chat represents a pairing between exactly two threads. Side order carries
// no meaning; routing works symmetrically. Owner tokens are snapshotted at
// pairing time so the anti-repeat block set can still be computed after the
// member threads close.
type Chat struct {
	ID           string
	ThreadA      string
	ThreadB      string
	TokenA       string
	TokenB       string
	ModeActive   bool
	OptInA       bool
	OptInB       bool
	CreatedAt    time.Time
	LastActiveAt time.Time
	ClosedAt     *time.Time
}

// Closed reports whether the chat has been ended by either side.
func (c *Chat) Closed() bool {
	return c.ClosedAt != nil
}

// Counterpart returns the other member thread id, or "" if threadID is not
// a member of this chat.
func (c *Chat) Counterpart(threadID string) string {
	switch threadID {
	case c.ThreadA:
		return c.ThreadB
	case c.ThreadB:
		return c.ThreadA
	}
	return ""
}

// OptedIn reports the given member thread's opt-in flag.
func (c *Chat) OptedIn(threadID string) bool {
	switch threadID {
	case c.ThreadA:
		return c.OptInA
	case c.ThreadB:
		return c.OptInB
	}
	return false
}

// Store defines the interface for thread and chat persistence.
//
// All cross-thread invariants (at most one open chat per thread, atomic
// pairing) are enforced here via transactions, never via in-process locks,
// so the system stays correct when multiple processes share one database.
type Store interface {
	// CreateThread creates a thread in connecting status. It is idempotent:
	// if the id already exists the stored record is returned unchanged,
	// which absorbs at-least-once delivery of newThread events.
	CreateThread(ctx context.Context, id, ownerToken string) (*Thread, error)

	// GetThread returns the thread or ErrNotFound.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// SetThreadStatus updates a thread's status. Setting a closed thread to
	// closed again is a no-op; any other transition out of closed returns
	// ErrThreadClosed.
	SetThreadStatus(ctx context.Context, id, status string) error

	// FindChatByThread returns the open chat containing the thread on
	// either side, or ErrNotFound.
	FindChatByThread(ctx context.Context, threadID string) (*Chat, error)

	// GetChat returns the chat (open or closed) or ErrNotFound.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// ListWaitingThreads returns up to limit threads in connecting status,
	// excluding excludeID and, when excludeToken is non-empty, any thread
	// carrying that owner token.
	ListWaitingThreads(ctx context.Context, excludeID, excludeToken string, limit int) ([]*Thread, error)

	// RecentPartnerTokens returns the owner tokens that chatted with the
	// given token in any chat active since the given time, open or closed.
	// This is the anti-repeat block set.
	RecentPartnerTokens(ctx context.Context, token string, since time.Time) ([]string, error)

	// PairThreads atomically transitions both threads from connecting to
	// connected and inserts the chat linking them. If either thread is no
	// longer connecting the whole transaction rolls back with ErrConflict.
	PairThreads(ctx context.Context, requesterID, candidateID string, chat *Chat) error

	// CloseChat marks the chat closed and forces both member threads to
	// closed status in one transaction. Closing an already-closed chat is
	// a no-op.
	CloseChat(ctx context.Context, chatID string) error

	// TouchChat updates the chat's last-activity timestamp.
	TouchChat(ctx context.Context, chatID string, at time.Time) error

	// SetOptIn records the opt-in flag for the side occupied by threadID.
	SetOptIn(ctx context.Context, chatID, threadID string, optIn bool) error

	// ActivateMode flips the mode flag on if it is currently off. It
	// reports whether this call performed the flip, so concurrent
	// activation attempts resolve to exactly one winner.
	ActivateMode(ctx context.Context, chatID string) (bool, error)

	// DeactivateMode turns the mode off and clears both opt-in flags.
	DeactivateMode(ctx context.Context, chatID string) error

	// CountWaitingThreads and CountOpenChats back the stats endpoint.
	CountWaitingThreads(ctx context.Context) (int, error)
	CountOpenChats(ctx context.Context) (int, error)

	// Close releases any resources held by the store
	Close() error
}
