// ABOUTME: Router tests driving full pairing, relay, and teardown flows
// ABOUTME: Uses the real SQLite store with a recording fake adapter

package relay

import (
	"context"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairwire/pairwire/internal/consensus"
	"github.com/pairwire/pairwire/internal/dedupe"
	"github.com/pairwire/pairwire/internal/frontend"
	"github.com/pairwire/pairwire/internal/pairing"
	"github.com/pairwire/pairwire/internal/store"
	"github.com/pairwire/pairwire/internal/transform"
)

// fakeAdapter records every outbound call keyed by thread id.
type fakeAdapter struct {
	name string

	mu       sync.Mutex
	messages map[string][]string
	statuses map[string][]string
	closed   map[string]int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:     name,
		messages: make(map[string][]string),
		statuses: make(map[string][]string),
		closed:   make(map[string]int),
	}
}

func (f *fakeAdapter) Name() string                    { return f.name }
func (f *fakeAdapter) Start(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (f *fakeAdapter) SendMessage(_ context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[threadID] = append(f.messages[threadID], text)
	return nil
}

func (f *fakeAdapter) SetStatus(_ context.Context, threadID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[threadID] = append(f.statuses[threadID], status)
	return nil
}

func (f *fakeAdapter) CloseChat(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[threadID]++
	return nil
}

func (f *fakeAdapter) sent(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[threadID]...)
}

func (f *fakeAdapter) lastSent(t *testing.T, threadID string) string {
	t.Helper()
	msgs := f.sent(threadID)
	require.NotEmpty(t, msgs, "expected messages sent to %s", threadID)
	return msgs[len(msgs)-1]
}

func (f *fakeAdapter) closeCount(threadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[threadID]
}

type routerFixture struct {
	router  *Router
	store   *store.SQLiteStore
	adapter *fakeAdapter
	seen    *dedupe.Cache
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.DiscardHandler)
	rng := rand.New(rand.NewSource(42))

	adapter := newFakeAdapter("test")
	registry := frontend.NewRegistry()
	require.NoError(t, registry.Register(adapter))

	seen := dedupe.New(time.Minute, 100)
	t.Cleanup(seen.Close)

	engine := pairing.New(s, rng, logger)
	mode := consensus.New(s, logger, "uwu", []string{"uwu", "owo"})
	tr := transform.New(rand.New(rand.NewSource(1)))

	return &routerFixture{
		router:  New(s, engine, registry, mode, tr, seen, logger),
		store:   s,
		adapter: adapter,
		seen:    seen,
	}
}

// connectPair brings two threads into an active chat and clears the
// adapter's recorded traffic so tests assert only on what follows.
func (fx *routerFixture) connectPair(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, a, "token-"+a))
	require.NoError(t, fx.router.HandleNewThread(ctx, b, "token-"+b))

	thread, err := fx.store.GetThread(ctx, a)
	require.NoError(t, err)
	require.Equal(t, store.StatusConnected, thread.Status, "pairing did not connect")

	fx.adapter.mu.Lock()
	fx.adapter.messages = make(map[string][]string)
	fx.adapter.statuses = make(map[string][]string)
	fx.adapter.mu.Unlock()
}

func TestNewThreadWaitsAlone(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))

	assert.Equal(t, []string{ReplyWaiting}, fx.adapter.sent("test|alice"))

	thread, err := fx.store.GetThread(ctx, "test|alice")
	require.NoError(t, err)
	assert.Equal(t, store.StatusConnecting, thread.Status)
}

func TestNewThreadPairsWithWaiting(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleNewThread(ctx, "test|bob", "bob"))

	assert.Equal(t, ReplyMatched, fx.adapter.lastSent(t, "test|alice"))
	assert.Equal(t, ReplyMatched, fx.adapter.lastSent(t, "test|bob"))

	for _, id := range []string{"test|alice", "test|bob"} {
		thread, err := fx.store.GetThread(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusConnected, thread.Status)
	}
}

func TestNewThreadRedeliveryIgnored(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	// Redelivered newThread for an already-connected thread must not
	// re-pair or notify anyone.
	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	assert.Empty(t, fx.adapter.sent("test|alice"))
}

func TestMessageRelayedToCounterpart(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "hello there"))

	assert.Equal(t, []string{"hello there"}, fx.adapter.sent("test|bob"))
	assert.Empty(t, fx.adapter.sent("test|alice"), "sender gets no echo")
}

func TestMessageWhileWaiting(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "anyone?"))

	msgs := fx.adapter.sent("test|alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, ReplyWaiting, msgs[1])
}

func TestMessageOnUnknownThread(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleMessage(ctx, "test|ghost", "ev1", "hello"))
	assert.Equal(t, []string{ReplyThreadClosed}, fx.adapter.sent("test|ghost"))
}

func TestStopCancelsSearch(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "  STOP  "))

	assert.Equal(t, ReplySearchCancelled, fx.adapter.lastSent(t, "test|alice"))

	thread, err := fx.store.GetThread(ctx, "test|alice")
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, thread.Status)
}

func TestStopClosesChat(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "STOP"))

	assert.Equal(t, []string{ReplyChatClosedBySelf}, fx.adapter.sent("test|alice"))
	assert.Equal(t, []string{ReplyChatClosedByPeer}, fx.adapter.sent("test|bob"))
	assert.Equal(t, 1, fx.adapter.closeCount("test|alice"))
	assert.Equal(t, 1, fx.adapter.closeCount("test|bob"))

	for _, id := range []string{"test|alice", "test|bob"} {
		thread, err := fx.store.GetThread(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusClosed, thread.Status)
	}

	// Further messages on either side bounce as closed.
	require.NoError(t, fx.router.HandleMessage(ctx, "test|bob", "ev2", "hello?"))
	assert.Equal(t, ReplyThreadClosed, fx.adapter.lastSent(t, "test|bob"))
}

func TestStopMustBeWholeMessage(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "please STOP doing that"))

	// Relayed as a normal message, chat stays open.
	assert.Equal(t, []string{"please STOP doing that"}, fx.adapter.sent("test|bob"))
	_, err := fx.store.FindChatByThread(ctx, "test|alice")
	require.NoError(t, err)
}

func TestCloseThreadNotifiesCounterpart(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleCloseThread(ctx, "test|alice"))

	// The disappeared side gets nothing; the counterpart is told.
	assert.Empty(t, fx.adapter.sent("test|alice"))
	assert.Equal(t, []string{ReplyChatClosedByPeer}, fx.adapter.sent("test|bob"))
	assert.Equal(t, 1, fx.adapter.closeCount("test|bob"))
}

func TestCloseThreadWhileWaiting(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleCloseThread(ctx, "test|alice"))

	thread, err := fx.store.GetThread(ctx, "test|alice")
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, thread.Status)
}

func TestModeActivationRequiresBothSides(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "uwu hello"))

	// One vote: relayed untransformed, no activation notice.
	assert.Equal(t, []string{"uwu hello"}, fx.adapter.sent("test|bob"))
	assert.Empty(t, fx.adapter.sent("test|alice"))

	require.NoError(t, fx.router.HandleMessage(ctx, "test|bob", "ev2", "owo back at you"))

	// Second vote activates; both sides get exactly one notice. Bob's
	// vote message itself is still relayed untransformed, activation
	// applies to subsequent messages only.
	aliceMsgs := fx.adapter.sent("test|alice")
	require.Len(t, aliceMsgs, 2)
	assert.Equal(t, "owo back at you", aliceMsgs[0])
	assert.Equal(t, ReplyModeActivated, aliceMsgs[1])
	assert.Equal(t, ReplyModeActivated, fx.adapter.lastSent(t, "test|bob"))

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev3", "really nice"))
	relayed := fx.adapter.lastSent(t, "test|bob")
	assert.NotEqual(t, "really nice", relayed, "active mode must transform relayed text")
	assert.Contains(t, relayed, "w", "transform rewrites r and l to w")
}

func TestDisableTurnsModeOff(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "uwu"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|bob", "ev2", "owo"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|bob", "ev3", "DISABLE"))

	assert.Equal(t, ReplyModeDisabled, fx.adapter.lastSent(t, "test|alice"))
	assert.Equal(t, ReplyModeDisabled, fx.adapter.lastSent(t, "test|bob"))

	// Relays are plain again.
	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev4", "hello world"))
	assert.Equal(t, "hello world", fx.adapter.lastSent(t, "test|bob"))

	chat, err := fx.store.FindChatByThread(ctx, "test|alice")
	require.NoError(t, err)
	assert.False(t, chat.ModeActive)
	assert.False(t, chat.OptInA)
	assert.False(t, chat.OptInB)
}

func TestDisableWhenInactive(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "DISABLE"))

	assert.Equal(t, []string{ReplyModeNotActive}, fx.adapter.sent("test|alice"))
	assert.Empty(t, fx.adapter.sent("test|bob"))
}

func TestModeUnavailable(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	// A router wired without the shared-mode feature relays trigger words
	// as plain text and answers DISABLE with the not-active notice.
	fx.router.mode = nil
	fx.router.transform = nil
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "uwu"))
	assert.Equal(t, []string{"uwu"}, fx.adapter.sent("test|bob"))

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev2", "DISABLE"))
	assert.Equal(t, ReplyModeNotActive, fx.adapter.lastSent(t, "test|alice"))
}

func TestDuplicateEventIgnored(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "hello"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "ev1", "hello"))

	assert.Equal(t, []string{"hello"}, fx.adapter.sent("test|bob"))
}

func TestEmptyEventIDSkipsDedupe(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()
	fx.connectPair(t, "test|alice", "test|bob")

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "", "ping"))
	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "", "ping"))

	assert.Equal(t, []string{"ping", "ping"}, fx.adapter.sent("test|bob"))
}

func TestUnroutableCounterpart(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	// Pairing works at the store level even when the counterpart's
	// prefix has no adapter; the defect surfaces on relay, which must
	// report it and apologize to the sender rather than retry.
	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleNewThread(ctx, "ghost|bob", "bob"))

	err := fx.router.HandleMessage(ctx, "test|alice", "ev1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, frontend.ErrUnknownFrontend)
	assert.Equal(t, ReplyError, fx.adapter.lastSent(t, "test|alice"))
}

func TestRelayBetweenSeparateAdapters(t *testing.T) {
	fx := newTestRouter(t)
	ctx := context.Background()

	other := newFakeAdapter("other")
	require.NoError(t, fx.router.frontends.Register(other))

	require.NoError(t, fx.router.HandleNewThread(ctx, "test|alice", "alice"))
	require.NoError(t, fx.router.HandleNewThread(ctx, "other|bob", "bob"))

	assert.Equal(t, ReplyMatched, fx.adapter.lastSent(t, "test|alice"))
	assert.Equal(t, ReplyMatched, other.lastSent(t, "other|bob"))

	require.NoError(t, fx.router.HandleMessage(ctx, "test|alice", "m1", "cross-platform hi"))
	assert.Equal(t, []string{"cross-platform hi"}, other.sent("other|bob"))
}
