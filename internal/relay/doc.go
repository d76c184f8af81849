// ABOUTME: Package documentation for the relay router
// ABOUTME: Describes event dispatch, commands, and failure handling

// Package relay routes inbound frontend events through the thread state
// machine: new threads trigger a pairing attempt, messages in a connected
// chat are forwarded to the counterpart, and the STOP and DISABLE commands
// drive teardown and shared-mode control.
//
// The router holds no state of its own. Every decision is made against the
// store's current view, and all cross-thread invariants (single open chat
// per thread, exactly-once pairing) are enforced by the store's
// transactions, so concurrent events for the same thread resolve safely.
//
// Storage failures are retried once and then answered with a generic
// apology; outbound delivery to each side is isolated, so one platform
// failing never suppresses a notice owed to the other.
package relay
