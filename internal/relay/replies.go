// ABOUTME: Canned user-facing replies sent by the relay router
// ABOUTME: Centralized so frontends present a single consistent voice

package relay

// Replies sent back to participants. Frontends deliver these verbatim.
const (
	ReplyWaiting          = "Waiting for a partner... Send STOP to cancel."
	ReplySearchCancelled  = "Search cancelled."
	ReplyMatched          = "You are now connected to a partner. Say hi! Send STOP at any time to end the chat."
	ReplyChatClosedBySelf = "You have closed the chat."
	ReplyChatClosedByPeer = "The other user has closed the chat."
	ReplyThreadClosed     = "This chat is closed. Start a new conversation to find another partner."
	ReplyError            = "An error occurred, please try again."
	ReplyDeliveryFailed   = "Your message could not be delivered, please try again."
	ReplyModeActivated    = "Shared mode is now active for both of you. Send DISABLE to turn it off."
	ReplyModeDisabled     = "Shared mode has been disabled."
	ReplyModeNotActive    = "Shared mode is not active."
)
