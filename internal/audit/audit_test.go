package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kakehashi/internal/store"
)

func newRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mirror := filepath.Join(dir, "audit.log")
	r, err := New(s, mirror)
	require.NoError(t, err)
	return r, mirror
}

func TestRecordAssignsMonotonicSequence(t *testing.T) {
	r, _ := newRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "conv-1", store.SideA, "send_message", store.OutcomeAllowed, nil))
	require.NoError(t, r.Record(ctx, "conv-1", store.SideB, "execute_command", store.OutcomeBlocked,
		map[string]string{"kind": "validation_blocked"}))

	entries, err := r.Tail(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 2, entries[0].Seq)
	assert.EqualValues(t, 1, entries[1].Seq)
	assert.Equal(t, "validation_blocked", entries[0].Detail["kind"])
}

func TestRecordMirrorsJSONL(t *testing.T) {
	r, mirror := newRecorder(t)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return fixed })

	require.NoError(t, r.Record(ctx, "conv-1", store.SideA, "register", store.OutcomeAllowed, nil))
	require.NoError(t, r.Record(ctx, "conv-1", store.SideA, "send_message", store.OutcomeAllowed, nil))

	f, err := os.Open(mirror)
	require.NoError(t, err)
	defer f.Close()

	var lines []store.AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e store.AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.EqualValues(t, 1, lines[0].Seq)
	assert.Equal(t, "register", lines[0].Action)
	assert.EqualValues(t, 2, lines[1].Seq)
	assert.True(t, lines[0].CreatedAt.Equal(fixed))
}

func TestTailFiltersByConversation(t *testing.T) {
	r, _ := newRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, "conv-1", store.SideA, "send_message", store.OutcomeAllowed, nil))
	require.NoError(t, r.Record(ctx, "conv-2", store.SideA, "send_message", store.OutcomeAllowed, nil))

	entries, err := r.Tail(ctx, "conv-2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-2", entries[0].ConversationID)
}

func TestRecorderWithoutMirror(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLite(filepath.Join(dir, "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r, err := New(s, "")
	require.NoError(t, err)
	require.NoError(t, r.Record(context.Background(), "", "", "cleanup", store.OutcomeAllowed, nil))
}
