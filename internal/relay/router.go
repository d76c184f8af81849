// ABOUTME: Relay router dispatching inbound frontend events per thread state
// ABOUTME: Drives pairing, message forwarding, commands, and chat teardown

package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pairwire/pairwire/internal/consensus"
	"github.com/pairwire/pairwire/internal/dedupe"
	"github.com/pairwire/pairwire/internal/frontend"
	"github.com/pairwire/pairwire/internal/pairing"
	"github.com/pairwire/pairwire/internal/store"
	"github.com/pairwire/pairwire/internal/transform"
)

// User commands, matched against the whole trimmed message, case-sensitive.
const (
	// CommandStop ends an active chat or cancels a search.
	CommandStop = "STOP"

	// CommandDisable turns the shared mode off for both sides.
	CommandDisable = "DISABLE"
)

// RouterStore provides what the router needs from storage
type RouterStore interface {
	CreateThread(ctx context.Context, id, ownerToken string) (*store.Thread, error)
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	SetThreadStatus(ctx context.Context, id, status string) error
	FindChatByThread(ctx context.Context, threadID string) (*store.Chat, error)
	CloseChat(ctx context.Context, chatID string) error
	TouchChat(ctx context.Context, chatID string, at time.Time) error
}

// Matcher finds a partner for a waiting thread
type Matcher interface {
	Match(ctx context.Context, threadID string) (string, *store.Chat, error)
}

// Router implements frontend.EventHandler. Each inbound event is handled
// independently; there is no per-thread serialization here, all cross-thread
// invariants are enforced by the store's transactions.
//
// mode may be nil, which disables the shared-mode feature entirely.
type Router struct {
	store     RouterStore
	matcher   Matcher
	frontends *frontend.Registry
	mode      *consensus.Feature
	transform *transform.Transformer
	seen      *dedupe.Cache
	logger    *slog.Logger
}

// New creates a Router.
func New(s RouterStore, matcher Matcher, frontends *frontend.Registry, mode *consensus.Feature, tr *transform.Transformer, seen *dedupe.Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     s,
		matcher:   matcher,
		frontends: frontends,
		mode:      mode,
		transform: tr,
		seen:      seen,
		logger:    logger.With("component", "relay"),
	}
}

var _ frontend.EventHandler = (*Router)(nil)

// HandleNewThread creates the thread and runs a pairing attempt. Creation
// is idempotent, so redelivered newThread events are harmless.
func (r *Router) HandleNewThread(ctx context.Context, threadID, ownerToken string) error {
	var thread *store.Thread
	err := r.withRetry(ctx, func() error {
		var err error
		thread, err = r.store.CreateThread(ctx, threadID, ownerToken)
		return err
	})
	if err != nil {
		r.logger.Error("creating thread failed", "thread", threadID, "error", err)
		r.send(ctx, threadID, ReplyError)
		return err
	}

	if thread.Status != store.StatusConnecting {
		// Redelivered event for a thread that already moved on.
		r.logger.Debug("newThread for non-connecting thread ignored", "thread", threadID, "status", thread.Status)
		return nil
	}

	return r.tryMatch(ctx, threadID)
}

// tryMatch runs the pairing engine and notifies both sides of the outcome.
// "No match" leaves the thread waiting.
func (r *Router) tryMatch(ctx context.Context, threadID string) error {
	counterpartID, _, err := r.matcher.Match(ctx, threadID)
	switch {
	case err == nil:
		// Connected. Notify and reflect status on both sides, each call
		// isolated so one platform's failure never hides the other's
		// notice.
		for _, id := range []string{threadID, counterpartID} {
			r.send(ctx, id, ReplyMatched)
			r.setStatus(ctx, id, frontend.StatusConnected)
		}
		return nil

	case errors.Is(err, pairing.ErrNoMatch),
		errors.Is(err, pairing.ErrInvalidState),
		errors.Is(err, store.ErrNotFound):
		// Not matchable right now; never surfaced as a failure. The
		// invalid-state and not-found cases mean a concurrent event beat
		// us to this thread.
		r.send(ctx, threadID, ReplyWaiting)
		r.setStatus(ctx, threadID, frontend.StatusConnecting)
		return nil

	default:
		r.logger.Error("pairing attempt failed", "thread", threadID, "error", err)
		r.send(ctx, threadID, ReplyError)
		return err
	}
}

// HandleMessage dispatches a message according to the thread's state.
// eventID, when provided, dedupes redelivered events: the key is marked
// only after successful handling so a failed event can be retried.
func (r *Router) HandleMessage(ctx context.Context, threadID, eventID, text string) error {
	key := ""
	if eventID != "" {
		key = threadID + ":" + eventID
		if r.seen.Check(key) {
			r.logger.Debug("duplicate message event ignored", "thread", threadID, "event_id", eventID)
			return nil
		}
	}

	err := r.handleMessage(ctx, threadID, text)
	if err == nil && key != "" {
		r.seen.Mark(key)
	}
	return err
}

func (r *Router) handleMessage(ctx context.Context, threadID, text string) error {
	var thread *store.Thread
	err := r.withRetry(ctx, func() error {
		var err error
		thread, err = r.store.GetThread(ctx, threadID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		// Unknown thread: the record is gone or never existed. Same user
		// experience as a closed thread.
		r.send(ctx, threadID, ReplyThreadClosed)
		return nil
	}
	if err != nil {
		r.logger.Error("fetching thread failed", "thread", threadID, "error", err)
		r.send(ctx, threadID, ReplyError)
		return err
	}

	command := strings.TrimSpace(text)

	switch thread.Status {
	case store.StatusConnecting:
		if command == CommandStop {
			return r.cancelSearch(ctx, threadID)
		}
		r.send(ctx, threadID, ReplyWaiting)
		return nil

	case store.StatusConnected:
		return r.handleConnectedMessage(ctx, threadID, text, command)

	default: // closed
		r.send(ctx, threadID, ReplyThreadClosed)
		return nil
	}
}

// cancelSearch closes a still-waiting thread.
func (r *Router) cancelSearch(ctx context.Context, threadID string) error {
	err := r.withRetry(ctx, func() error {
		return r.store.SetThreadStatus(ctx, threadID, store.StatusClosed)
	})
	if err != nil {
		r.logger.Error("cancelling search failed", "thread", threadID, "error", err)
		r.send(ctx, threadID, ReplyError)
		return err
	}

	r.send(ctx, threadID, ReplySearchCancelled)
	r.setStatus(ctx, threadID, frontend.StatusClosed)
	return nil
}

// handleConnectedMessage relays a message or executes a command within an
// active chat.
func (r *Router) handleConnectedMessage(ctx context.Context, threadID, text, command string) error {
	var chat *store.Chat
	err := r.withRetry(ctx, func() error {
		var err error
		chat, err = r.store.FindChatByThread(ctx, threadID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		// A concurrent close can leave a short window where the thread
		// record still says connected.
		r.send(ctx, threadID, ReplyThreadClosed)
		return nil
	}
	if err != nil {
		r.logger.Error("fetching chat failed", "thread", threadID, "error", err)
		r.send(ctx, threadID, ReplyError)
		return err
	}

	switch command {
	case CommandStop:
		return r.closeChat(ctx, chat, threadID)
	case CommandDisable:
		return r.disableMode(ctx, chat, threadID)
	}

	return r.relay(ctx, chat, threadID, text)
}

// closeChat ends the chat on behalf of initiatorID. The two sides get
// distinct notices; every outbound call is isolated.
func (r *Router) closeChat(ctx context.Context, chat *store.Chat, initiatorID string) error {
	counterpartID := chat.Counterpart(initiatorID)

	err := r.withRetry(ctx, func() error {
		return r.store.CloseChat(ctx, chat.ID)
	})
	if err != nil {
		r.logger.Error("closing chat failed", "chat_id", chat.ID, "error", err)
		r.send(ctx, initiatorID, ReplyError)
		return err
	}

	r.send(ctx, initiatorID, ReplyChatClosedBySelf)
	r.send(ctx, counterpartID, ReplyChatClosedByPeer)
	for _, id := range []string{initiatorID, counterpartID} {
		r.setStatus(ctx, id, frontend.StatusClosed)
		r.closeFrontendChat(ctx, id)
	}

	r.logger.Info("chat closed", "chat_id", chat.ID, "initiator", initiatorID)
	return nil
}

// disableMode turns the shared mode off for both sides. A disable on an
// inactive chat only clears pending votes and answers the sender.
func (r *Router) disableMode(ctx context.Context, chat *store.Chat, senderID string) error {
	if r.mode == nil {
		r.send(ctx, senderID, ReplyModeNotActive)
		return nil
	}
	wasActive := chat.ModeActive

	err := r.withRetry(ctx, func() error {
		return r.mode.Disable(ctx, chat.ID)
	})
	if err != nil {
		r.logger.Error("disabling mode failed", "chat_id", chat.ID, "error", err)
		r.send(ctx, senderID, ReplyError)
		return err
	}

	if wasActive {
		r.send(ctx, senderID, ReplyModeDisabled)
		r.send(ctx, chat.Counterpart(senderID), ReplyModeDisabled)
	} else {
		r.send(ctx, senderID, ReplyModeNotActive)
	}
	return nil
}

// relay forwards a message to the counterpart, applying the mode transform
// when active, then updates activity and runs the opt-in check.
func (r *Router) relay(ctx context.Context, chat *store.Chat, senderID, text string) error {
	counterpartID := chat.Counterpart(senderID)

	out := text
	if chat.ModeActive && r.transform != nil {
		out = r.transform.Apply(text)
	}

	adapter, err := r.frontends.Lookup(counterpartID)
	if err != nil {
		// Unroutable counterpart is a configuration defect, distinct from
		// ordinary delivery failures and never retried.
		r.logger.Error("counterpart is unroutable", "thread", counterpartID, "error", err)
		r.send(ctx, senderID, ReplyError)
		return err
	}
	if err := adapter.SendMessage(ctx, counterpartID, out); err != nil {
		r.logger.Error("relaying message failed", "from", senderID, "to", counterpartID, "error", err)
		r.send(ctx, senderID, ReplyDeliveryFailed)
		return nil
	}

	if err := r.withRetry(ctx, func() error {
		return r.store.TouchChat(ctx, chat.ID, time.Now().UTC())
	}); err != nil {
		// The message was delivered; a stale activity stamp only shortens
		// the anti-repeat window.
		r.logger.Warn("touching chat failed", "chat_id", chat.ID, "error", err)
	}

	if r.mode != nil && r.mode.Triggered(text) {
		activated, err := r.mode.RecordOptIn(ctx, chat, senderID)
		if err != nil {
			r.logger.Error("recording opt-in failed", "chat_id", chat.ID, "error", err)
			return nil
		}
		if activated {
			r.send(ctx, senderID, ReplyModeActivated)
			r.send(ctx, counterpartID, ReplyModeActivated)
		}
	}

	return nil
}

// HandleCloseThread reacts to the platform ending a conversation: the
// counterpart, if any, is told and cleaned up; the disappeared side only
// gets its records closed, since there is nobody left to message.
func (r *Router) HandleCloseThread(ctx context.Context, threadID string) error {
	thread, err := r.store.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.logger.Error("fetching thread failed", "thread", threadID, "error", err)
		return err
	}

	switch thread.Status {
	case store.StatusConnecting:
		err := r.withRetry(ctx, func() error {
			return r.store.SetThreadStatus(ctx, threadID, store.StatusClosed)
		})
		if err != nil {
			r.logger.Error("closing waiting thread failed", "thread", threadID, "error", err)
			return err
		}
		return nil

	case store.StatusConnected:
		chat, err := r.store.FindChatByThread(ctx, threadID)
		if errors.Is(err, store.ErrNotFound) {
			return r.store.SetThreadStatus(ctx, threadID, store.StatusClosed)
		}
		if err != nil {
			r.logger.Error("fetching chat failed", "thread", threadID, "error", err)
			return err
		}

		counterpartID := chat.Counterpart(threadID)
		if err := r.withRetry(ctx, func() error {
			return r.store.CloseChat(ctx, chat.ID)
		}); err != nil {
			r.logger.Error("closing chat failed", "chat_id", chat.ID, "error", err)
			return err
		}

		r.send(ctx, counterpartID, ReplyChatClosedByPeer)
		r.setStatus(ctx, counterpartID, frontend.StatusClosed)
		r.closeFrontendChat(ctx, counterpartID)

		r.logger.Info("chat closed by disappearance", "chat_id", chat.ID, "thread", threadID)
		return nil

	default:
		return nil
	}
}

// withRetry runs op, retrying exactly once when the failure is a storage
// error. Anything else propagates immediately.
func (r *Router) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, store.ErrStorage) {
		return err
	}
	r.logger.Warn("storage operation failed, retrying once", "error", err)
	return op()
}

// send delivers text to a thread, logging failures instead of propagating
// them so sibling notifications in the same event are never aborted.
func (r *Router) send(ctx context.Context, threadID, text string) {
	adapter, err := r.frontends.Lookup(threadID)
	if err != nil {
		r.logger.Error("unroutable thread", "thread", threadID, "error", err)
		return
	}
	if err := adapter.SendMessage(ctx, threadID, text); err != nil {
		r.logger.Error("sending message failed", "thread", threadID, "error", err)
	}
}

// setStatus pushes a thread's lifecycle state to its adapter; failures are
// logged only, adapters may not even implement a visual status.
func (r *Router) setStatus(ctx context.Context, threadID, status string) {
	adapter, err := r.frontends.Lookup(threadID)
	if err != nil {
		r.logger.Error("unroutable thread", "thread", threadID, "error", err)
		return
	}
	if err := adapter.SetStatus(ctx, threadID, status); err != nil {
		r.logger.Debug("setting status failed", "thread", threadID, "status", status, "error", err)
	}
}

// closeFrontendChat asks the adapter to clean up its side of an ended
// thread.
func (r *Router) closeFrontendChat(ctx context.Context, threadID string) {
	adapter, err := r.frontends.Lookup(threadID)
	if err != nil {
		r.logger.Error("unroutable thread", "thread", threadID, "error", err)
		return
	}
	if err := adapter.CloseChat(ctx, threadID); err != nil {
		r.logger.Warn("frontend chat cleanup failed", "thread", threadID, "error", err)
	}
}
