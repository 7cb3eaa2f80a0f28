package forumchat

import "errors"

// ============================================================================
// Error Taxonomy
// ============================================================================

var (
	// ErrTransportClosed reports that the underlying connection dropped.
	ErrTransportClosed = errors.New("forumchat: transport closed")

	// ErrReconnectExhausted is terminal: the automatic reconnect budget is spent.
	ErrReconnectExhausted = errors.New("forumchat: reconnect attempts exhausted")

	// ErrProtocolDecode reports an inbound frame whose body is not a well-formed envelope.
	ErrProtocolDecode = errors.New("forumchat: malformed frame")

	// ErrNotReady is returned when sending with no active session.
	ErrNotReady = errors.New("forumchat: connection not ready")

	// ErrDuplicateSuppressed is returned when an identical send was already issued this second.
	ErrDuplicateSuppressed = errors.New("forumchat: duplicate send suppressed")

	// ErrEmptyContent is returned when the content is empty after trimming.
	ErrEmptyContent = errors.New("forumchat: empty message content")

	// ErrNoHistory is returned when a history response carries no message list.
	ErrNoHistory = errors.New("forumchat: history response has no message list")

	// ErrNotLoggedIn is returned when a chat session is started without an identity.
	ErrNotLoggedIn = errors.New("forumchat: not logged in")
)
