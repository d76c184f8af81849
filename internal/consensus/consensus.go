// ABOUTME: Generic two-party opt-in engine built on chat flags
// ABOUTME: A feature activates only when both sides vote; either side can kill it

package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pairwire/pairwire/internal/store"
)

// FlagStore provides what the feature needs from storage
type FlagStore interface {
	GetChat(ctx context.Context, id string) (*store.Chat, error)
	SetOptIn(ctx context.Context, chatID, threadID string, optIn bool) error
	ActivateMode(ctx context.Context, chatID string) (bool, error)
	DeactivateMode(ctx context.Context, chatID string) error
}

// Feature is a chat-wide toggle requiring both participants' agreement to
// activate and either side's action to deactivate. Votes are cast
// implicitly: any relayed message matching the trigger pattern records the
// sender's opt-in.
type Feature struct {
	name    string
	trigger *regexp.Regexp
	store   FlagStore
	logger  *slog.Logger
}

// New creates a Feature with the given case-insensitive trigger keywords,
// matched as standalone words in relayed text.
func New(s FlagStore, logger *slog.Logger, name string, keywords []string) *Feature {
	if logger == nil {
		logger = slog.Default()
	}

	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(k))
	}
	trigger := regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)

	return &Feature{
		name:    name,
		trigger: trigger,
		store:   s,
		logger:  logger.With("component", "consensus", "feature", name),
	}
}

// Name returns the feature name.
func (f *Feature) Name() string {
	return f.name
}

// Triggered reports whether the text contains a trigger keyword.
func (f *Feature) Triggered(text string) bool {
	return f.trigger.MatchString(text)
}

// RecordOptIn registers the sender's vote on the chat and reports whether
// this vote activated the feature. Activation happens at most once per
// chat: the store's guarded flip resolves concurrent double-votes to a
// single winner, so both sides get exactly one activation notice.
func (f *Feature) RecordOptIn(ctx context.Context, chat *store.Chat, senderThreadID string) (bool, error) {
	if chat.ModeActive {
		return false, nil
	}

	if err := f.store.SetOptIn(ctx, chat.ID, senderThreadID, true); err != nil {
		return false, fmt.Errorf("recording opt-in: %w", err)
	}

	// Re-fetch: the counterpart may have voted concurrently.
	current, err := f.store.GetChat(ctx, chat.ID)
	if err != nil {
		return false, fmt.Errorf("fetching chat flags: %w", err)
	}
	if !current.OptInA || !current.OptInB {
		f.logger.Debug("opt-in recorded, waiting for counterpart", "chat_id", chat.ID, "thread", senderThreadID)
		return false, nil
	}

	activated, err := f.store.ActivateMode(ctx, chat.ID)
	if err != nil {
		return false, fmt.Errorf("activating %s: %w", f.name, err)
	}
	if activated {
		f.logger.Info("feature activated", "chat_id", chat.ID)
	}
	return activated, nil
}

// Disable deactivates the feature and clears both opt-in flags. A
// single-sided disable is authoritative; no re-consensus is required to
// turn the feature off.
func (f *Feature) Disable(ctx context.Context, chatID string) error {
	if err := f.store.DeactivateMode(ctx, chatID); err != nil {
		return fmt.Errorf("deactivating %s: %w", f.name, err)
	}
	f.logger.Info("feature disabled", "chat_id", chatID)
	return nil
}
