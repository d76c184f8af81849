// ABOUTME: Slack frontend adapter using Socket Mode
// ABOUTME: Maps channel message threads onto relay threads

package slackfe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/pairwire/pairwire/internal/config"
	"github.com/pairwire/pairwire/internal/frontend"
)

// AdapterName is the namespace prefix for Slack thread ids.
const AdapterName = "slack"

const welcomeMessage = "Looking for an anonymous partner for you. Replies in this thread will be relayed."

// Adapter bridges Slack message threads to the relay. A top-level message
// in an allowed channel opens a thread keyed by channel and root
// timestamp; replies inside it are relayed. The author's user id is the
// owner token.
type Adapter struct {
	api     *slack.Client
	socket  *socketmode.Client
	handler frontend.EventHandler
	logger  *slog.Logger

	allowedChannels map[string]bool
	botUserID       string
}

// New creates a Slack adapter from configuration.
func New(cfg config.SlackConfig, handler frontend.EventHandler, logger *slog.Logger) *Adapter {
	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	allowed := make(map[string]bool, len(cfg.AllowedChannels))
	for _, ch := range cfg.AllowedChannels {
		allowed[ch] = true
	}

	return &Adapter{
		api:             api,
		socket:          socketmode.New(api),
		handler:         handler,
		logger:          logger.With("component", "slackfe"),
		allowedChannels: allowed,
	}
}

var _ frontend.Adapter = (*Adapter)(nil)

// Name returns the adapter's namespace prefix.
func (a *Adapter) Name() string {
	return AdapterName
}

// Start connects over Socket Mode and dispatches events until ctx is
// cancelled or the connection fails.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.logger.Info("connected to slack", "bot_user", auth.UserID, "team", auth.Team)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.socket.RunContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down slack adapter")
			return nil

		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("slack socket mode: %w", err)

		case evt := <-a.socket.Events:
			a.dispatch(ctx, evt)
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(ctx, apiEvent)

	case socketmode.EventTypeConnectionError:
		a.logger.Warn("slack connection error", "data", evt.Data)

	case socketmode.EventTypeConnected:
		a.logger.Debug("slack socket connected")
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	a.handleMessage(ctx, ev)
}

// handleMessage routes one message event. Top-level messages open a new
// thread; replies feed the existing one.
func (a *Adapter) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Skip our own traffic and channel noise like edits and joins.
	if ev.BotID != "" || ev.User == a.botUserID || ev.SubType != "" {
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	if len(a.allowedChannels) > 0 && !a.allowedChannels[ev.Channel] {
		a.logger.Debug("ignoring message from non-allowed channel", "channel", ev.Channel)
		return
	}

	if ev.ThreadTimeStamp == "" || ev.ThreadTimeStamp == ev.TimeStamp {
		// Top-level message: open a thread rooted at this message.
		threadID := frontend.ThreadID(AdapterName, ev.Channel+"|"+ev.TimeStamp)
		ownerToken := AdapterName + "|" + ev.User

		a.postReply(ctx, ev.Channel, ev.TimeStamp, welcomeMessage)
		if err := a.handler.HandleNewThread(ctx, threadID, ownerToken); err != nil {
			a.logger.Error("opening thread failed", "thread", threadID, "error", err)
		}
		return
	}

	threadID := frontend.ThreadID(AdapterName, ev.Channel+"|"+ev.ThreadTimeStamp)
	if err := a.handler.HandleMessage(ctx, threadID, ev.TimeStamp, text); err != nil {
		a.logger.Error("handling message failed", "thread", threadID, "error", err)
	}
}

// SendMessage posts text as a reply inside the thread.
func (a *Adapter) SendMessage(ctx context.Context, threadID, text string) error {
	channel, rootTS, err := a.split(threadID)
	if err != nil {
		return err
	}

	_, _, err = a.api.PostMessageContext(ctx, channel,
		slack.MsgOptionTS(rootTS),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", channel, err)
	}
	return nil
}

// SetStatus marks the root message with a reaction reflecting the thread's
// state.
func (a *Adapter) SetStatus(ctx context.Context, threadID, status string) error {
	channel, rootTS, err := a.split(threadID)
	if err != nil {
		return err
	}

	emoji := ""
	switch status {
	case frontend.StatusConnecting:
		emoji = "hourglass_flowing_sand"
	case frontend.StatusConnected:
		emoji = "speech_balloon"
	case frontend.StatusClosed:
		emoji = "no_entry_sign"
	}
	if emoji == "" {
		return nil
	}

	ref := slack.ItemRef{Channel: channel, Timestamp: rootTS}
	if err := a.api.AddReactionContext(ctx, emoji, ref); err != nil {
		// Re-adding an existing reaction is a normal race, not a failure.
		if strings.Contains(err.Error(), "already_reacted") {
			return nil
		}
		return fmt.Errorf("marking thread status: %w", err)
	}
	return nil
}

// CloseChat is a no-op: the Slack thread stays readable after the chat
// ends, only relaying stops.
func (a *Adapter) CloseChat(ctx context.Context, threadID string) error {
	return nil
}

// postReply posts best-effort text into a thread, logging failures.
func (a *Adapter) postReply(ctx context.Context, channel, rootTS, text string) {
	_, _, err := a.api.PostMessageContext(ctx, channel,
		slack.MsgOptionTS(rootTS),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		a.logger.Error("posting message failed", "channel", channel, "error", err)
	}
}

// split breaks a slack thread id into channel and root timestamp.
func (a *Adapter) split(threadID string) (channel, rootTS string, err error) {
	name, local := frontend.Split(threadID)
	if name != AdapterName {
		return "", "", fmt.Errorf("thread %q does not belong to the slack adapter", threadID)
	}
	channel, rootTS, ok := strings.Cut(local, "|")
	if !ok || channel == "" || rootTS == "" {
		return "", "", fmt.Errorf("malformed slack thread id %q", threadID)
	}
	return channel, rootTS, nil
}
