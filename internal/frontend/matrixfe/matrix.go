// ABOUTME: Matrix frontend adapter built on the mautrix client
// ABOUTME: Maps direct-message rooms onto relay threads

package matrixfe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/pairwire/pairwire/internal/config"
	"github.com/pairwire/pairwire/internal/frontend"
)

// AdapterName is the namespace prefix for Matrix thread ids.
const AdapterName = "matrix"

// networkTimeout bounds individual Matrix API calls so a slow homeserver
// never stalls the router.
const networkTimeout = 10 * time.Second

const welcomeMessage = "Hi! I pair you with a random anonymous partner. Looking for one now..."

// Adapter bridges Matrix direct-message rooms to the relay. Each room the
// bot is invited to becomes one thread; the inviter's user id is the
// thread's owner token, so the same person is never re-paired with a
// recent partner across rooms.
type Adapter struct {
	client  *mautrix.Client
	userID  id.UserID
	handler frontend.EventHandler
	logger  *slog.Logger
}

// New creates a Matrix adapter from configuration.
func New(cfg config.MatrixConfig, handler frontend.EventHandler, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Adapter{
		client:  client,
		userID:  id.UserID(cfg.UserID),
		handler: handler,
		logger:  logger.With("component", "matrixfe"),
	}, nil
}

var _ frontend.Adapter = (*Adapter)(nil)

// Name returns the adapter's namespace prefix.
func (a *Adapter) Name() string {
	return AdapterName
}

// Start registers sync handlers and blocks in the sync loop until ctx is
// cancelled or syncing fails.
func (a *Adapter) Start(ctx context.Context) error {
	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, a.handleMessageEvent)
	syncer.OnEventType(event.StateMember, a.handleMemberEvent)

	a.logger.Info("connecting to matrix homeserver", "user_id", a.userID)

	syncErr := make(chan error, 1)
	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		syncErr <- a.client.SyncWithContext(syncCtx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down matrix adapter")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMemberEvent reacts to room membership changes: an invite for the
// bot opens a new thread, a participant leaving closes it.
func (a *Adapter) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}

	threadID := frontend.ThreadID(AdapterName, evt.RoomID.String())

	switch {
	case content.Membership == event.MembershipInvite && id.UserID(evt.GetStateKey()) == a.userID:
		a.acceptInvite(ctx, evt.RoomID, evt.Sender)

	case content.Membership == event.MembershipLeave && id.UserID(evt.GetStateKey()) != a.userID:
		a.logger.Info("participant left room", "room", evt.RoomID, "user", evt.GetStateKey())
		if err := a.handler.HandleCloseThread(ctx, threadID); err != nil {
			a.logger.Error("closing thread failed", "thread", threadID, "error", err)
		}
	}
}

// acceptInvite joins the room, greets the inviter, and opens the thread.
func (a *Adapter) acceptInvite(ctx context.Context, roomID id.RoomID, inviter id.UserID) {
	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := a.client.JoinRoomByID(joinCtx, roomID); err != nil {
		a.logger.Error("joining room failed", "room", roomID, "error", err)
		return
	}

	a.logger.Info("joined room", "room", roomID, "inviter", inviter)

	threadID := frontend.ThreadID(AdapterName, roomID.String())
	a.sendText(ctx, roomID, welcomeMessage)

	ownerToken := AdapterName + "|" + inviter.String()
	if err := a.handler.HandleNewThread(ctx, threadID, ownerToken); err != nil {
		a.logger.Error("opening thread failed", "thread", threadID, "error", err)
	}
}

// handleMessageEvent forwards text messages to the router.
func (a *Adapter) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == a.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	threadID := frontend.ThreadID(AdapterName, evt.RoomID.String())
	if err := a.handler.HandleMessage(ctx, threadID, evt.ID.String(), body); err != nil {
		a.logger.Error("handling message failed", "thread", threadID, "error", err)
	}
}

// SendMessage delivers text into the thread's room.
func (a *Adapter) SendMessage(ctx context.Context, threadID, text string) error {
	roomID, err := a.roomID(threadID)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := a.client.SendText(sendCtx, roomID, text); err != nil {
		return fmt.Errorf("sending to room %s: %w", roomID, err)
	}
	return nil
}

// SetStatus is a no-op; Matrix rooms carry no per-thread status surface.
func (a *Adapter) SetStatus(ctx context.Context, threadID, status string) error {
	return nil
}

// CloseChat leaves the room. The participant keeps their copy of the
// history; the bot simply disappears.
func (a *Adapter) CloseChat(ctx context.Context, threadID string) error {
	roomID, err := a.roomID(threadID)
	if err != nil {
		return err
	}

	leaveCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := a.client.LeaveRoom(leaveCtx, roomID); err != nil {
		return fmt.Errorf("leaving room %s: %w", roomID, err)
	}
	return nil
}

// sendText delivers text with failure logged only, used for best-effort
// greetings.
func (a *Adapter) sendText(ctx context.Context, roomID id.RoomID, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := a.client.SendText(sendCtx, roomID, text); err != nil {
		a.logger.Error("sending message failed", "room", roomID, "error", err)
	}
}

func (a *Adapter) roomID(threadID string) (id.RoomID, error) {
	name, local := frontend.Split(threadID)
	if name != AdapterName || local == "" {
		return "", fmt.Errorf("thread %q does not belong to the matrix adapter", threadID)
	}
	return id.RoomID(local), nil
}
