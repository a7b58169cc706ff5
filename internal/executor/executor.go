// Package executor runs human-approved commands. A run consumes an approval
// token, re-validates the command, snapshots the workspace, executes with a
// hard deadline, and broadcasts the outcome to both sides of the
// conversation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/kakehashi/internal/audit"
	"github.com/harunnryd/kakehashi/internal/command"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/guard"
	"github.com/harunnryd/kakehashi/internal/redact"
	"github.com/harunnryd/kakehashi/internal/sandbox"
	"github.com/harunnryd/kakehashi/internal/store"
)

// Request asks for one command run. Token is the single-use approval token;
// DryRun validates without consuming it or running anything.
type Request struct {
	ConversationID string
	Side           string
	Token          string
	CommandLine    string
	DryRun         bool
}

// Result is what both conversation sides receive. Status is "ok", "timeout"
// or "dry_run"; a timeout carries exit code -1.
type Result struct {
	Status         string        `json:"status"`
	ExitCode       int           `json:"exit_code"`
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr"`
	StdoutTrunc    bool          `json:"stdout_truncated,omitempty"`
	StderrTrunc    bool          `json:"stderr_truncated,omitempty"`
	SnapshotBranch string        `json:"snapshot_branch,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Options are the executor's fixed limits.
type Options struct {
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

type Executor struct {
	store     store.Store
	audit     *audit.Recorder
	guard     *guard.Guard
	validator *command.Validator
	redactor  *redact.Redactor
	sandbox   sandbox.Runner
	opts      Options
	now       func() time.Time
}

func New(st store.Store, rec *audit.Recorder, g *guard.Guard, v *command.Validator, r *redact.Redactor, sb sandbox.Runner, opts Options) *Executor {
	return &Executor{
		store:     st,
		audit:     rec,
		guard:     g,
		validator: v,
		redactor:  r,
		sandbox:   sb,
		opts:      opts,
		now:       time.Now,
	}
}

// SetClock overrides the executor's clock. Test hook.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Execute performs one guarded run. Every deny path is audited before it
// returns.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	settings, err := e.guard.Settings(ctx, req.ConversationID, req.Side)
	if err != nil {
		e.deny(ctx, req, "guard not ready", err)
		return nil, err
	}

	if req.DryRun {
		return e.dryRun(ctx, req, settings)
	}

	token, err := e.store.ConsumeApprovalToken(ctx, req.Token, e.now())
	if err != nil {
		e.deny(ctx, req, "token rejected", err)
		return nil, err
	}
	if token.ConversationID != req.ConversationID || token.Side != req.Side {
		err := kkErrors.GuardState("token does not belong to this session")
		e.deny(ctx, req, "token mismatch", err)
		return nil, err
	}

	verdict, err := e.validator.Validate(req.CommandLine, settings.Mode)
	if err != nil {
		e.deny(ctx, req, verdict.Reason, err)
		return nil, err
	}

	if settings.Sandbox {
		if err := e.sandbox.Available(ctx); err != nil {
			e.deny(ctx, req, "sandbox unavailable", err)
			return nil, err
		}
	}

	started := e.now()
	snapshotBranch, err := Snapshot(ctx, settings.Workspace, started)
	if err != nil {
		// A failed snapshot in a git workspace aborts the run; executing
		// without the safety net the workspace could have had is worse than
		// rejecting.
		wrapped := fmt.Errorf("workspace snapshot: %v: %w", err, kkErrors.ErrInternal)
		e.deny(ctx, req, "snapshot failed", wrapped)
		return nil, wrapped
	}

	timeout := e.opts.DefaultTimeout
	if settings.TimeoutSecs > 0 {
		timeout = time.Duration(settings.TimeoutSecs) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var exitCode int
	var stdout, stderr []byte
	if settings.Sandbox {
		var res *sandbox.Result
		res, err = e.sandbox.Run(runCtx, settings.Workspace, req.CommandLine)
		if res != nil {
			exitCode, stdout, stderr = res.ExitCode, res.Stdout, res.Stderr
		}
	} else {
		exitCode, stdout, stderr, err = hostRun(runCtx, settings.Workspace, req.CommandLine, "agent-"+req.Side)
	}
	duration := e.now().Sub(started)

	result := &Result{
		Status:         "ok",
		ExitCode:       exitCode,
		SnapshotBranch: snapshotBranch,
		Duration:       duration,
	}
	switch {
	case runCtx.Err() == context.DeadlineExceeded || kkErrors.IsCategory(err, kkErrors.ErrExecutionTimeout):
		// Whatever the command wrote before the deadline is still delivered;
		// the status and exit code carry the timeout.
		result.Status = "timeout"
		result.ExitCode = -1
		result.Stdout, result.StdoutTrunc = e.clean(stdout)
		result.Stderr, result.StderrTrunc = e.clean(stderr)
	case err != nil:
		wrapped := fmt.Errorf("run command: %v: %w", err, kkErrors.ErrInternal)
		e.deny(ctx, req, "execution error", wrapped)
		return nil, wrapped
	default:
		result.Stdout, result.StdoutTrunc = e.clean(stdout)
		result.Stderr, result.StderrTrunc = e.clean(stderr)
	}

	if err := e.broadcast(ctx, req, result); err != nil {
		return nil, err
	}

	if err := e.audit.Record(ctx, req.ConversationID, req.Side, "execute_command", store.OutcomeAllowed, map[string]string{
		"program":   verdict.Program,
		"status":    result.Status,
		"exit_code": strconv.Itoa(result.ExitCode),
		"sandbox":   strconv.FormatBool(settings.Sandbox),
		"snapshot":  snapshotBranch,
	}); err != nil {
		return nil, err
	}

	slog.Info("Command executed",
		"conversation", req.ConversationID,
		"side", req.Side,
		"status", result.Status,
		"exit_code", result.ExitCode,
		"duration", duration,
	)
	return result, nil
}

// dryRun reports what would happen without consuming the token or touching
// the workspace.
func (e *Executor) dryRun(ctx context.Context, req *Request, settings *guard.Settings) (*Result, error) {
	verdict, err := e.validator.Validate(req.CommandLine, settings.Mode)
	if err != nil {
		e.deny(ctx, req, verdict.Reason, err)
		return nil, err
	}
	if err := e.audit.Record(ctx, req.ConversationID, req.Side, "execute_command", store.OutcomeAllowed, map[string]string{
		"program": verdict.Program,
		"status":  "dry_run",
	}); err != nil {
		return nil, err
	}
	return &Result{Status: "dry_run", Stdout: verdict.Reason}, nil
}

// RollbackWorkspace restores a workspace to a snapshot branch made by a
// previous run. Operator action, not reachable over the bridge.
func (e *Executor) RollbackWorkspace(ctx context.Context, convID, side, branch string) error {
	settings, err := e.guard.Settings(ctx, convID, side)
	if err != nil {
		return err
	}
	if err := Rollback(ctx, settings.Workspace, branch); err != nil {
		return err
	}
	return e.audit.Record(ctx, convID, side, "rollback", store.OutcomeAllowed, map[string]string{"snapshot": branch})
}

// clean truncates and then redacts one output stream.
func (e *Executor) clean(raw []byte) (string, bool) {
	truncated := false
	if e.opts.MaxOutputBytes > 0 && len(raw) > e.opts.MaxOutputBytes {
		raw = raw[:e.opts.MaxOutputBytes]
		truncated = true
	}
	out, _ := e.redactor.Apply(string(raw))
	return out, truncated
}

// broadcast delivers the outcome to both sides as a system message. Failure
// to deliver is failure of the run.
func (e *Executor) broadcast(ctx context.Context, req *Request, result *Result) error {
	body := fmt.Sprintf("command finished: status=%s exit_code=%d duration=%s",
		result.Status, result.ExitCode, result.Duration.Round(time.Millisecond))
	if result.SnapshotBranch != "" {
		body += " snapshot=" + result.SnapshotBranch
	}
	if err := e.store.InsertBroadcast(ctx, req.ConversationID, body, "result", e.now()); err != nil {
		return kkErrors.Wrap(err, "broadcast result")
	}
	return nil
}

func (e *Executor) deny(ctx context.Context, req *Request, reason string, cause error) {
	_ = e.audit.Record(ctx, req.ConversationID, req.Side, "execute_command", store.OutcomeBlocked, map[string]string{
		"reason": reason,
		"kind":   kkErrors.Kind(cause),
	})
}
