package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

func newAuth(t *testing.T, ttl time.Duration) (*Authenticator, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, ttl), s
}

func TestRegisterIssuesDistinctSecrets(t *testing.T) {
	a, _ := newAuth(t, 3*time.Hour)

	creds, err := a.Register(context.Background(), "planner", "reviewer")
	require.NoError(t, err)
	assert.NotEmpty(t, creds.ConversationID)
	assert.Len(t, creds.SecretA, 64)
	assert.Len(t, creds.SecretB, 64)
	assert.NotEqual(t, creds.SecretA, creds.SecretB)
}

func TestRegisterRequiresRoles(t *testing.T) {
	a, _ := newAuth(t, 3*time.Hour)

	_, err := a.Register(context.Background(), "planner", "")
	assert.ErrorIs(t, err, kkErrors.ErrInvalidInput)
}

func TestVerify(t *testing.T) {
	a, _ := newAuth(t, 3*time.Hour)
	ctx := context.Background()

	creds, err := a.Register(ctx, "planner", "reviewer")
	require.NoError(t, err)

	conv, err := a.Verify(ctx, creds.ConversationID, store.SideA, creds.SecretA)
	require.NoError(t, err)
	assert.Equal(t, "planner", conv.RoleA)

	// Right secret, wrong side.
	_, err = a.Verify(ctx, creds.ConversationID, store.SideB, creds.SecretA)
	assert.ErrorIs(t, err, kkErrors.ErrAuth)

	// Unknown conversation yields the same error as a wrong secret.
	_, err = a.Verify(ctx, "no-such-conversation", store.SideA, creds.SecretA)
	assert.ErrorIs(t, err, kkErrors.ErrAuth)

	_, err = a.Verify(ctx, creds.ConversationID, "c", creds.SecretA)
	assert.ErrorIs(t, err, kkErrors.ErrInvalidInput)
}

func TestVerifyExpiredConversation(t *testing.T) {
	a, _ := newAuth(t, time.Hour)
	ctx := context.Background()

	creds, err := a.Register(ctx, "planner", "reviewer")
	require.NoError(t, err)

	a.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	_, err = a.Verify(ctx, creds.ConversationID, store.SideA, creds.SecretA)
	assert.ErrorIs(t, err, kkErrors.ErrConversationExpired)
}
