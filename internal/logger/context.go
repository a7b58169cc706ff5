package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const ConversationIDKey contextKey = "conversation_id"
const SessionSideKey contextKey = "session_side"

func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, id)
}

func GetConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(ConversationIDKey).(string); ok {
		return id
	}
	return ""
}

func WithSessionSide(ctx context.Context, side string) context.Context {
	return context.WithValue(ctx, SessionSideKey, side)
}

func GetSessionSide(ctx context.Context) string {
	if side, ok := ctx.Value(SessionSideKey).(string); ok {
		return side
	}
	return ""
}

// With returns the default logger annotated with whatever correlation IDs the
// context carries.
func With(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetConversationID(ctx); id != "" {
		l = l.With("conversation", id)
	}
	if side := GetSessionSide(ctx); side != "" {
		l = l.With("side", side)
	}
	return l
}
