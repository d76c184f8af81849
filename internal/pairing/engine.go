// ABOUTME: Pairing engine that matches waiting threads into chats
// ABOUTME: Applies the anti-repeat block set and claims candidates atomically

package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairwire/pairwire/internal/store"
)

// Engine errors
var (
	// ErrNoMatch means no eligible candidate is currently waiting. The
	// thread stays in connecting status; a later pairing attempt (its own
	// or a newcomer's) may succeed.
	ErrNoMatch = errors.New("no eligible candidate")

	// ErrInvalidState means the thread is not in connecting status. This
	// defends against double invocation for an already-paired thread.
	ErrInvalidState = errors.New("thread not in connecting state")
)

// Defaults for the matching parameters.
const (
	// DefaultCoolDown is how long a finished chat keeps blocking a
	// re-match of the same two owner tokens.
	DefaultCoolDown = 10 * time.Minute

	// DefaultFanOut bounds the candidate query for bounded latency under
	// load.
	DefaultFanOut = 50
)

// MatchStore provides what the engine needs from storage
type MatchStore interface {
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	ListWaitingThreads(ctx context.Context, excludeID, excludeToken string, limit int) ([]*store.Thread, error)
	RecentPartnerTokens(ctx context.Context, token string, since time.Time) ([]string, error)
	PairThreads(ctx context.Context, requesterID, candidateID string, chat *store.Chat) error
}

// Engine finds partners for waiting threads. Candidate choice is uniformly
// random rather than oldest-first: the lack of a stable queue order trades a
// little waiting-time fairness for unpredictability, so nobody can predict
// who they will match with.
type Engine struct {
	store    MatchStore
	coolDown time.Duration
	fanOut   int
	logger   *slog.Logger

	// rng is guarded by mu; math/rand sources are not safe for concurrent
	// use and pairing attempts run concurrently.
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithCoolDown overrides the anti-repeat window.
func WithCoolDown(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.coolDown = d
		}
	}
}

// WithFanOut overrides the candidate query bound.
func WithFanOut(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fanOut = n
		}
	}
}

// New creates an Engine. The rand source is injected so tests can pass a
// fixed seed; production wiring seeds it from crypto/rand.
func New(s MatchStore, rng *rand.Rand, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    s,
		coolDown: DefaultCoolDown,
		fanOut:   DefaultFanOut,
		logger:   logger.With("component", "pairing"),
		rng:      rng,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match attempts to pair the given connecting thread with a waiting
// candidate. On success it returns the matched counterpart's thread id and
// the created chat. ErrNoMatch means the thread should keep waiting;
// store.ErrNotFound and ErrInvalidState mean the request itself was bad.
func (e *Engine) Match(ctx context.Context, threadID string) (string, *store.Chat, error) {
	// Re-fetch: the caller may hold a stale record.
	requester, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		return "", nil, fmt.Errorf("fetching requester: %w", err)
	}
	if requester.Status != store.StatusConnecting {
		return "", nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, threadID, requester.Status)
	}

	blocked, err := e.blockSet(ctx, requester.OwnerToken)
	if err != nil {
		return "", nil, err
	}

	candidates, err := e.store.ListWaitingThreads(ctx, requester.ID, requester.OwnerToken, e.fanOut)
	if err != nil {
		return "", nil, fmt.Errorf("querying candidates: %w", err)
	}

	eligible := candidates[:0]
	for _, c := range candidates {
		if c.OwnerToken != "" && blocked[c.OwnerToken] {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		return "", nil, ErrNoMatch
	}

	candidate := eligible[e.pick(len(eligible))]

	now := time.Now().UTC()
	chat := &store.Chat{
		ID:           uuid.New().String(),
		ThreadA:      requester.ID,
		ThreadB:      candidate.ID,
		TokenA:       requester.OwnerToken,
		TokenB:       candidate.OwnerToken,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := e.store.PairThreads(ctx, requester.ID, candidate.ID, chat); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The candidate was claimed out from under us. Treat as no
			// match; the caller leaves the requester waiting and either
			// side will retry on its next event.
			e.logger.Debug("candidate claimed concurrently", "requester", requester.ID, "candidate", candidate.ID)
			return "", nil, ErrNoMatch
		}
		return "", nil, fmt.Errorf("claiming pair: %w", err)
	}

	e.logger.Info("paired threads", "chat_id", chat.ID, "requester", requester.ID, "candidate", candidate.ID)
	return candidate.ID, chat, nil
}

// blockSet computes the owner tokens the requester must not be paired with:
// the counterpart token of every chat involving the requester's token whose
// activity falls within the cool-down window. Token-less requesters have an
// empty block set (permissive fallback).
func (e *Engine) blockSet(ctx context.Context, ownerToken string) (map[string]bool, error) {
	if ownerToken == "" {
		return nil, nil
	}

	since := time.Now().Add(-e.coolDown)
	tokens, err := e.store.RecentPartnerTokens(ctx, ownerToken, since)
	if err != nil {
		return nil, fmt.Errorf("querying block set: %w", err)
	}

	blocked := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		blocked[t] = true
	}
	return blocked, nil
}

// pick returns a uniformly random index in [0, n).
func (e *Engine) pick(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}
