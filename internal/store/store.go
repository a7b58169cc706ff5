// Package store is the single source of truth for conversations, sessions,
// messages, guard state, approval tokens, rate buckets and the audit trail.
// Every cross-cutting invariant (single message delivery, single token use)
// is enforced by transaction scope here, never by external locking.
package store

import (
	"context"
	"time"

	"github.com/harunnryd/kakehashi/internal/ratelimit"
)

// Store defines the persistence interface for the bridge.
type Store interface {
	// CreateConversation persists a conversation and seeds both session
	// status rows in one transaction.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns all conversations, newest first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// DeleteExpiredConversations removes conversations past expiry and
	// cascades to their messages, statuses, guard states and tokens.
	DeleteExpiredConversations(ctx context.Context, now time.Time) (int64, error)

	// InsertMessage appends one message and returns its id.
	InsertMessage(ctx context.Context, m *Message) (int64, error)

	// InsertBroadcast appends one system message per side in one
	// transaction, so both sessions observe the result exactly once.
	InsertBroadcast(ctx context.Context, convID, body, category string, now time.Time) error

	// TakeUnread selects all unread messages addressed to the side and
	// marks them read in the same transaction. Two concurrent pollers never
	// both receive the same message.
	TakeUnread(ctx context.Context, convID, side string) ([]*Message, error)

	// ListMessages returns the full history for a conversation, ordered by
	// creation time with insertion order as tiebreak. Read accessor for the
	// management CLI.
	ListMessages(ctx context.Context, convID string) ([]*Message, error)

	// UpsertStatus writes one side's status and heartbeat.
	UpsertStatus(ctx context.Context, s *SessionStatus) error

	// TouchHeartbeat refreshes one side's heartbeat, leaving its declared
	// status untouched.
	TouchHeartbeat(ctx context.Context, convID, side string, now time.Time) error

	// GetStatus reads one side's status row; ErrNotFound if never set.
	GetStatus(ctx context.Context, convID, side string) (*SessionStatus, error)

	// PutGuardState upserts a side's guard state.
	PutGuardState(ctx context.Context, gs *GuardState) error

	// GetGuardState reads a side's guard state; ErrNotFound when the guard
	// is Disabled for that side.
	GetGuardState(ctx context.Context, convID, side string) (*GuardState, error)

	// DeleteGuardState resets a side's guard to Disabled.
	DeleteGuardState(ctx context.Context, convID, side string) error

	// InsertApprovalToken persists a freshly minted token.
	InsertApprovalToken(ctx context.Context, t *ApprovalToken) error

	// ConsumeApprovalToken flips consumed false→true exactly once, in one
	// transaction. Returns ErrGuardState for unknown tokens,
	// ErrTokenAlreadyUsed for reuse, ErrTokenExpired past TTL.
	ConsumeApprovalToken(ctx context.Context, value string, now time.Time) (*ApprovalToken, error)

	// ListActiveTokens returns unconsumed, unexpired tokens.
	ListActiveTokens(ctx context.Context, now time.Time) ([]*ApprovalToken, error)

	// DeleteExpiredTokens reclaims tokens past TTL. Safe to run concurrently
	// with live consumption.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// TakeRateTokens performs the all-or-nothing bucket update for one call
	// as a single transaction. A nil Denial means the call was admitted.
	TakeRateTokens(ctx context.Context, sessionKey string, now time.Time, windows []ratelimit.Window) (*ratelimit.Denial, error)

	// AppendAudit appends one immutable audit entry and returns its
	// sequence number.
	AppendAudit(ctx context.Context, e *AuditEntry) (int64, error)

	// TailAudit returns up to limit entries, newest first, optionally
	// filtered by conversation. Read accessor for the management CLI.
	TailAudit(ctx context.Context, convID string, limit int) ([]*AuditEntry, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close closes the store.
	Close() error
}
