// Package guard implements the staged approval sequence that gates command
// execution. Every stage requires a distinct human action, each proof is
// single-use, and every stage has its own expiry. The guard defaults to
// disabled and can only be armed when the operator opted in at process start.
package guard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/harunnryd/kakehashi/internal/audit"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

// Options carries the guard's fixed configuration.
type Options struct {
	// Optin must be set by the operator's environment; without it Enable
	// always refuses.
	Optin         bool
	ConfirmPhrase string
	StageTTL      time.Duration
	TokenTTL      time.Duration
	// StateDir holds the one-time code files the operator reads out of band.
	StateDir string
}

// Settings are the execution parameters a side requests when arming the
// guard. They are frozen at Enable and carried through to execution.
type Settings struct {
	Mode        store.ExecMode
	Workspace   string
	TimeoutSecs int
	Sandbox     bool
}

type Guard struct {
	store store.Store
	audit *audit.Recorder
	opts  Options
	now   func() time.Time
}

func New(st store.Store, rec *audit.Recorder, opts Options) *Guard {
	return &Guard{
		store: st,
		audit: rec,
		opts:  opts,
		now:   time.Now,
	}
}

// SetClock overrides the guard's clock. Test hook.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Enable arms the guard for one side and returns the phrase the human must
// type to proceed. Refused outright unless the operator opted in.
func (g *Guard) Enable(ctx context.Context, convID, side string, s Settings) (string, error) {
	if !g.opts.Optin {
		err := kkErrors.GuardState("execution is not enabled on this host")
		g.record(ctx, convID, side, "guard_enable", store.OutcomeBlocked, map[string]string{"reason": "optin not set"})
		return "", err
	}
	if !s.Mode.Valid() {
		return "", kkErrors.InvalidInput(fmt.Sprintf("unknown execution mode %q", s.Mode))
	}
	if s.Workspace == "" {
		return "", kkErrors.InvalidInput("workspace is required")
	}

	now := g.now()
	gs := &store.GuardState{
		ConversationID: convID,
		Side:           side,
		Stage:          store.StageConfirmPending,
		Mode:           s.Mode,
		Workspace:      s.Workspace,
		TimeoutSecs:    s.TimeoutSecs,
		Sandbox:        s.Sandbox,
		StageExpiresAt: now.Add(g.opts.StageTTL),
		UpdatedAt:      now,
	}
	if err := g.store.PutGuardState(ctx, gs); err != nil {
		return "", kkErrors.Wrap(err, "arm guard")
	}

	if err := g.record(ctx, convID, side, "guard_enable", store.OutcomeAllowed, map[string]string{
		"mode":    string(s.Mode),
		"sandbox": fmt.Sprintf("%t", s.Sandbox),
	}); err != nil {
		return "", err
	}

	slog.Info("Guard armed, awaiting confirmation",
		"conversation", convID,
		"side", side,
		"mode", s.Mode,
	)
	return g.opts.ConfirmPhrase, nil
}

// Confirm advances confirm_pending to code_issued when the human types the
// exact phrase. The one-time code is written to a file only someone with
// local filesystem access can read; it is never returned over the bridge.
func (g *Guard) Confirm(ctx context.Context, convID, side, phrase string) (string, error) {
	gs, err := g.stateAt(ctx, convID, side, store.StageConfirmPending)
	if err != nil {
		return "", err
	}

	if phrase != g.opts.ConfirmPhrase {
		g.record(ctx, convID, side, "guard_confirm", store.OutcomeBlocked, map[string]string{"reason": "phrase mismatch"})
		return "", kkErrors.GuardState("confirmation phrase does not match")
	}

	code, err := newCode()
	if err != nil {
		return "", err
	}
	path, err := g.writeCodeFile(convID, side, code)
	if err != nil {
		return "", err
	}

	now := g.now()
	gs.Stage = store.StageCodeIssued
	gs.Code = code
	gs.StageExpiresAt = now.Add(g.opts.StageTTL)
	gs.UpdatedAt = now
	if err := g.store.PutGuardState(ctx, gs); err != nil {
		return "", kkErrors.Wrap(err, "advance guard to code stage")
	}

	if err := g.record(ctx, convID, side, "guard_confirm", store.OutcomeAllowed, nil); err != nil {
		return "", err
	}
	return path, nil
}

// Approve advances code_issued to token_issued when the human supplies the
// code read from the file. The returned token authorizes exactly one
// execution within the token TTL.
func (g *Guard) Approve(ctx context.Context, convID, side, code string) (*store.ApprovalToken, error) {
	gs, err := g.stateAt(ctx, convID, side, store.StageCodeIssued)
	if err != nil {
		return nil, err
	}

	if code == "" || subtle.ConstantTimeCompare([]byte(code), []byte(gs.Code)) != 1 {
		g.record(ctx, convID, side, "guard_approve", store.OutcomeBlocked, map[string]string{"reason": "code mismatch"})
		return nil, kkErrors.GuardState("approval code does not match")
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	now := g.now()
	token := &store.ApprovalToken{
		Value:          value,
		ConversationID: convID,
		Side:           side,
		IssuedAt:       now,
		ExpiresAt:      now.Add(g.opts.TokenTTL),
	}
	if err := g.store.InsertApprovalToken(ctx, token); err != nil {
		return nil, kkErrors.Wrap(err, "issue approval token")
	}

	// The code is spent: remove it from disk and from the state row.
	os.Remove(g.codePath(convID, side))
	gs.Stage = store.StageTokenIssued
	gs.Code = ""
	gs.StageExpiresAt = token.ExpiresAt
	gs.UpdatedAt = now
	if err := g.store.PutGuardState(ctx, gs); err != nil {
		return nil, kkErrors.Wrap(err, "advance guard to token stage")
	}

	if err := g.record(ctx, convID, side, "guard_approve", store.OutcomeAllowed, nil); err != nil {
		return nil, err
	}
	return token, nil
}

// Disable resets one side's guard to the disabled state from any stage.
func (g *Guard) Disable(ctx context.Context, convID, side string) error {
	os.Remove(g.codePath(convID, side))
	if err := g.store.DeleteGuardState(ctx, convID, side); err != nil {
		return kkErrors.Wrap(err, "disable guard")
	}
	return g.record(ctx, convID, side, "guard_disable", store.OutcomeAllowed, nil)
}

// Status reports one side's current stage, or nil when disabled.
func (g *Guard) Status(ctx context.Context, convID, side string) (*store.GuardState, error) {
	gs, err := g.store.GetGuardState(ctx, convID, side)
	if kkErrors.IsCategory(err, kkErrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, kkErrors.Wrap(err, "read guard state")
	}
	return gs, nil
}

// Settings returns the execution settings frozen when the side armed its
// guard. Only valid in the token_issued stage.
func (g *Guard) Settings(ctx context.Context, convID, side string) (*Settings, error) {
	gs, err := g.stateAt(ctx, convID, side, store.StageTokenIssued)
	if err != nil {
		return nil, err
	}
	return &Settings{
		Mode:        gs.Mode,
		Workspace:   gs.Workspace,
		TimeoutSecs: gs.TimeoutSecs,
		Sandbox:     gs.Sandbox,
	}, nil
}

// stateAt loads a side's guard state and requires it to be at the given
// stage and unexpired. An expired stage is reset to disabled on sight.
func (g *Guard) stateAt(ctx context.Context, convID, side string, want store.GuardStage) (*store.GuardState, error) {
	gs, err := g.store.GetGuardState(ctx, convID, side)
	if kkErrors.IsCategory(err, kkErrors.ErrNotFound) {
		return nil, kkErrors.GuardState("guard is disabled")
	}
	if err != nil {
		return nil, kkErrors.Wrap(err, "read guard state")
	}

	if gs.StageExpired(g.now()) {
		os.Remove(g.codePath(convID, side))
		if err := g.store.DeleteGuardState(ctx, convID, side); err != nil {
			return nil, kkErrors.Wrap(err, "reset expired guard")
		}
		g.record(ctx, convID, side, "guard_expire", store.OutcomeBlocked, map[string]string{"stage": string(gs.Stage)})
		return nil, kkErrors.GuardState("guard stage expired, start over")
	}
	if gs.Stage != want {
		return nil, kkErrors.GuardState(fmt.Sprintf("guard is at stage %s", gs.Stage))
	}
	return gs, nil
}

func (g *Guard) record(ctx context.Context, convID, side, action, outcome string, detail map[string]string) error {
	if g.audit == nil {
		return nil
	}
	return g.audit.Record(ctx, convID, side, action, outcome, detail)
}
