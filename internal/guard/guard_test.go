package guard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kakehashi/internal/audit"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

const phrase = "I UNDERSTAND THE RISKS"

func newGuard(t *testing.T, optin bool) (*Guard, store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec, err := audit.New(s, "")
	require.NoError(t, err)

	g := New(s, rec, Options{
		Optin:         optin,
		ConfirmPhrase: phrase,
		StageTTL:      10 * time.Minute,
		TokenTTL:      5 * time.Minute,
		StateDir:      filepath.Join(dir, "guard"),
	})
	return g, s
}

func settings() Settings {
	return Settings{
		Mode:        store.ModeRestricted,
		Workspace:   "/tmp/ws",
		TimeoutSecs: 30,
		Sandbox:     true,
	}
}

func TestEnableRefusedWithoutOptin(t *testing.T) {
	g, _ := newGuard(t, false)

	_, err := g.Enable(context.Background(), "conv-1", store.SideA, settings())
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)
}

func TestFullApprovalSequence(t *testing.T) {
	g, s := newGuard(t, true)
	ctx := context.Background()

	got, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)
	assert.Equal(t, phrase, got)

	codePath, err := g.Confirm(ctx, "conv-1", store.SideA, phrase)
	require.NoError(t, err)

	data, err := os.ReadFile(codePath)
	require.NoError(t, err)
	code := strings.TrimSpace(string(data))
	assert.Len(t, code, 6)

	info, err := os.Stat(codePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	token, err := g.Approve(ctx, "conv-1", store.SideA, code)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token.Value, "appr-"))

	// The code file is spent.
	_, err = os.Stat(codePath)
	assert.True(t, os.IsNotExist(err))

	// The token is live and bound to the side.
	consumed, err := s.ConsumeApprovalToken(ctx, token.Value, time.Now())
	require.NoError(t, err)
	assert.Equal(t, store.SideA, consumed.Side)

	set, err := g.Settings(ctx, "conv-1", store.SideA)
	require.NoError(t, err)
	assert.Equal(t, store.ModeRestricted, set.Mode)
	assert.True(t, set.Sandbox)
}

func TestConfirmRejectsWrongPhrase(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	_, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)

	_, err = g.Confirm(ctx, "conv-1", store.SideA, "i understand the risks")
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)
}

func TestStagesMustRunInOrder(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	// Approve before anything is armed.
	_, err := g.Approve(ctx, "conv-1", store.SideA, "abc123")
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)

	_, err = g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)

	// Approve while still at confirm_pending.
	_, err = g.Approve(ctx, "conv-1", store.SideA, "abc123")
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)

	// Confirm twice.
	_, err = g.Confirm(ctx, "conv-1", store.SideA, phrase)
	require.NoError(t, err)
	_, err = g.Confirm(ctx, "conv-1", store.SideA, phrase)
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)
}

func TestApproveRejectsWrongCode(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	_, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)
	_, err = g.Confirm(ctx, "conv-1", store.SideA, phrase)
	require.NoError(t, err)

	_, err = g.Approve(ctx, "conv-1", store.SideA, "000000")
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)
}

func TestExpiredStageResetsToDisabled(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	_, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)

	g.SetClock(func() time.Time { return time.Now().Add(11 * time.Minute) })

	_, err = g.Confirm(ctx, "conv-1", store.SideA, phrase)
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)

	// The reset means the guard reads as disabled now.
	st, err := g.Status(ctx, "conv-1", store.SideA)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestDisableFromAnyStage(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	_, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)
	require.NoError(t, g.Disable(ctx, "conv-1", store.SideA))

	st, err := g.Status(ctx, "conv-1", store.SideA)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSidesAreIndependent(t *testing.T) {
	g, _ := newGuard(t, true)
	ctx := context.Background()

	_, err := g.Enable(ctx, "conv-1", store.SideA, settings())
	require.NoError(t, err)

	// Side B never armed; its approve fails and side A is unaffected.
	_, err = g.Approve(ctx, "conv-1", store.SideB, "abc123")
	assert.ErrorIs(t, err, kkErrors.ErrGuardState)

	st, err := g.Status(ctx, "conv-1", store.SideA)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, store.StageConfirmPending, st.Stage)
}
