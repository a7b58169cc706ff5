package sweeper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kakehashi/internal/audit"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

func TestSweepReclaimsExpiredState(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := audit.New(s, "")
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID: "stale", RoleA: "a", RoleB: "b", SecretA: "x", SecretB: "y",
		CreatedAt: now.Add(-4 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID: "live", RoleA: "a", RoleB: "b", SecretA: "x", SecretB: "y",
		CreatedAt: now, ExpiresAt: now.Add(3 * time.Hour),
	}))
	require.NoError(t, s.InsertApprovalToken(ctx, &store.ApprovalToken{
		Value: "long-dead", ConversationID: "live", Side: store.SideA,
		IssuedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, s.InsertApprovalToken(ctx, &store.ApprovalToken{
		Value: "just-expired", ConversationID: "live", Side: store.SideA,
		IssuedAt: now.Add(-10 * time.Minute), ExpiresAt: now.Add(-5 * time.Minute),
	}))

	conversations, tokens, err := New(s, rec).Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, conversations)
	assert.EqualValues(t, 1, tokens)

	// The live conversation survived, and the sweep left an audit entry.
	_, err = s.GetConversation(ctx, "live")
	require.NoError(t, err)

	// A freshly expired token outlives the sweep, so trying to use it still
	// reports expiry instead of an unknown token.
	_, err = s.ConsumeApprovalToken(ctx, "just-expired", now)
	assert.ErrorIs(t, err, kkErrors.ErrTokenExpired)
	entries, err := s.TailAudit(ctx, "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "cleanup", entries[0].Action)

	// Nothing left to reclaim.
	conversations, tokens, err = New(s, rec).Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, conversations)
	assert.Zero(t, tokens)
}
