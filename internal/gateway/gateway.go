// Package gateway defines the narrow publication transport contract the
// scheduling engine depends on. The Telegram implementation lives in the
// telegram subpackage; tests use in-memory fakes.
package gateway

import "context"

// MessageRef identifies a delivered message for later edit/delete calls.
// ChatID is the numeric chat id reported by the transport on delivery
// (stable even when the channel was addressed by @username).
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ChatInfo is the subset of chat metadata used by channel health checks.
type ChatInfo struct {
	ID          int64
	Title       string
	MemberCount int
}

// Gateway sends, edits and deletes channel messages.
//
// Implementations must honor ctx cancellation/deadlines; a deadline hit
// is reported as an ordinary error (the engine treats it as a publish
// failure, never retried automatically).
type Gateway interface {
	// Send delivers text (plus an optional photo by URL) to the chat
	// identified by externalID ("@name" or numeric "-100..." form).
	Send(ctx context.Context, externalID, text, photoURL string) (MessageRef, error)

	// Edit replaces the text/caption of a previously sent message.
	Edit(ctx context.Context, ref MessageRef, text, photoURL string) error

	// Delete removes a previously sent message.
	Delete(ctx context.Context, ref MessageRef) error

	// ChatInfo fetches chat metadata for health checks.
	ChatInfo(ctx context.Context, externalID string) (ChatInfo, error)
}
