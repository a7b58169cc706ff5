// Package audit records every security-relevant decision: allowed and blocked
// alike. Entries are appended to the store for strict ordering and mirrored
// to a JSONL file for offline inspection. A failed audit write fails the
// operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

type Recorder struct {
	store      store.Store
	mirrorPath string
	lock       *flock.Flock
	now        func() time.Time
}

// New builds a recorder. mirrorPath may be empty to disable the file mirror.
func New(st store.Store, mirrorPath string) (*Recorder, error) {
	r := &Recorder{
		store:      st,
		mirrorPath: mirrorPath,
		now:        time.Now,
	}
	if mirrorPath != "" {
		if err := os.MkdirAll(filepath.Dir(mirrorPath), 0o700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
		r.lock = flock.New(mirrorPath + ".lock")
	}
	return r, nil
}

// SetClock overrides the recorder's clock. Test hook.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record appends one entry. The store append assigns the sequence number; the
// mirror line carries the same sequence so the two logs can be reconciled.
func (r *Recorder) Record(ctx context.Context, convID, side, action, outcome string, detail map[string]string) error {
	entry := &store.AuditEntry{
		ConversationID: convID,
		Side:           side,
		Action:         action,
		Outcome:        outcome,
		Detail:         detail,
		CreatedAt:      r.now(),
	}

	if _, err := r.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", kkErrors.ErrInternal)
	}

	if err := r.mirror(entry); err != nil {
		return fmt.Errorf("mirror audit entry: %w", kkErrors.ErrInternal)
	}

	slog.Debug("Audit entry recorded",
		"seq", entry.Seq,
		"action", action,
		"outcome", outcome,
	)
	return nil
}

func (r *Recorder) mirror(entry *store.AuditEntry) error {
	if r.mirrorPath == "" {
		return nil
	}

	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("acquire audit lock: %w", err)
	}
	defer r.lock.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(r.mirrorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit mirror: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit mirror: %w", err)
	}
	return f.Sync()
}

// Tail returns up to limit entries, newest first, optionally filtered by
// conversation.
func (r *Recorder) Tail(ctx context.Context, convID string, limit int) ([]*store.AuditEntry, error) {
	return r.store.TailAudit(ctx, convID, limit)
}
