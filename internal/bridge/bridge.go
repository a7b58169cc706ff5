// Package bridge is the authenticated message surface between two agent
// sessions. Every operation verifies the caller's secret, charges the rate
// limiter, and leaves an audit entry on both the allow and the deny path.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/kakehashi/internal/audit"
	"github.com/harunnryd/kakehashi/internal/auth"
	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/executor"
	"github.com/harunnryd/kakehashi/internal/guard"
	"github.com/harunnryd/kakehashi/internal/logger"
	"github.com/harunnryd/kakehashi/internal/ratelimit"
	"github.com/harunnryd/kakehashi/internal/redact"
	"github.com/harunnryd/kakehashi/internal/store"
)

// Session identifies and authenticates one caller.
type Session struct {
	ConversationID string
	Side           string
	Secret         string
}

func (s Session) key() string {
	return s.ConversationID + ":" + s.Side
}

// Message categories agents may send. "result" is reserved for system
// broadcasts.
var agentCategories = map[string]struct{}{
	"question": {}, "info": {}, "proposal": {},
	"status": {}, "blocked": {}, "complete": {},
}

// Statuses a side may declare about itself. Rows start as "registered" until
// the first declaration.
var sessionStatuses = map[string]struct{}{
	"working": {}, "waiting": {}, "blocked": {}, "complete": {},
}

// Options are the bridge's message-level limits.
type Options struct {
	MaxMessageBytes int
	MaxFiles        int
	AliveWithin     time.Duration
}

type Bridge struct {
	store    store.Store
	auth     *auth.Authenticator
	limiter  *ratelimit.Limiter
	redactor *redact.Redactor
	audit    *audit.Recorder
	guard    *guard.Guard
	exec     *executor.Executor
	opts     Options
	now      func() time.Time
}

func New(st store.Store, a *auth.Authenticator, l *ratelimit.Limiter, r *redact.Redactor, rec *audit.Recorder, g *guard.Guard, e *executor.Executor, opts Options) *Bridge {
	return &Bridge{
		store:    st,
		auth:     a,
		limiter:  l,
		redactor: r,
		audit:    rec,
		guard:    g,
		exec:     e,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock overrides the bridge's clock. Test hook.
func (b *Bridge) SetClock(now func() time.Time) {
	b.now = now
}

// Register creates a conversation and returns both secrets. The only
// operation that needs no credentials.
func (b *Bridge) Register(ctx context.Context, roleA, roleB string) (*auth.Credentials, error) {
	creds, err := b.auth.Register(ctx, roleA, roleB)
	if err != nil {
		return nil, err
	}
	if err := b.audit.Record(ctx, creds.ConversationID, "", "register", store.OutcomeAllowed, map[string]string{
		"role_a": roleA,
		"role_b": roleB,
	}); err != nil {
		return nil, err
	}
	slog.Info("Conversation registered",
		"conversation", creds.ConversationID,
		"role_a", roleA,
		"role_b", roleB,
	)
	return creds, nil
}

// SendResult is what the sender gets back: the stored message id and how many
// redaction rules fired on the body.
type SendResult struct {
	MessageID int64
	Redacted  []redact.Finding
}

// Send relays one message to the partner side. The body is redacted before it
// is persisted; an over-sized body is rejected, never truncated.
func (b *Bridge) Send(ctx context.Context, sess Session, body, category string, files []string) (*SendResult, error) {
	if _, err := b.admit(ctx, sess, "send_message"); err != nil {
		return nil, err
	}

	if body == "" {
		return nil, b.blocked(ctx, sess, "send_message", kkErrors.InvalidInput("message body is empty"))
	}
	if len(body) > b.opts.MaxMessageBytes {
		err := fmt.Errorf("body is %d bytes, cap is %d: %w", len(body), b.opts.MaxMessageBytes, kkErrors.ErrPayloadTooLarge)
		return nil, b.blocked(ctx, sess, "send_message", err)
	}
	if _, ok := agentCategories[category]; !ok {
		return nil, b.blocked(ctx, sess, "send_message", kkErrors.InvalidInput(fmt.Sprintf("unknown category %q", category)))
	}
	if len(files) > b.opts.MaxFiles {
		err := fmt.Errorf("%d file references, cap is %d: %w", len(files), b.opts.MaxFiles, kkErrors.ErrPayloadTooLarge)
		return nil, b.blocked(ctx, sess, "send_message", err)
	}

	clean, findings := b.redactor.Apply(body)

	now := b.now()
	id, err := b.store.InsertMessage(ctx, &store.Message{
		ConversationID: sess.ConversationID,
		From:           sess.Side,
		To:             store.Partner(sess.Side),
		Body:           clean,
		Category:       category,
		Files:          files,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, kkErrors.Wrap(err, "store message")
	}
	if err := b.touch(ctx, sess, now); err != nil {
		return nil, err
	}

	detail := map[string]string{"category": category, "bytes": strconv.Itoa(len(clean))}
	if len(findings) > 0 {
		detail["redactions"] = strconv.Itoa(len(findings))
	}
	if err := b.audit.Record(ctx, sess.ConversationID, sess.Side, "send_message", store.OutcomeAllowed, detail); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: id, Redacted: findings}, nil
}

// Poll delivers all unread messages addressed to the caller, exactly once.
func (b *Bridge) Poll(ctx context.Context, sess Session) ([]*store.Message, error) {
	if _, err := b.admit(ctx, sess, "get_messages"); err != nil {
		return nil, err
	}

	msgs, err := b.store.TakeUnread(ctx, sess.ConversationID, sess.Side)
	if err != nil {
		return nil, kkErrors.Wrap(err, "take unread")
	}
	if err := b.touch(ctx, sess, b.now()); err != nil {
		return nil, err
	}
	if err := b.audit.Record(ctx, sess.ConversationID, sess.Side, "get_messages", store.OutcomeAllowed, map[string]string{
		"delivered": strconv.Itoa(len(msgs)),
	}); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PartnerStatus reports the other side's last declared status and whether its
// heartbeat is recent enough to count as alive.
type PartnerStatus struct {
	Role          string
	Status        string
	Alive         bool
	LastHeartbeat time.Time
}

func (b *Bridge) Partner(ctx context.Context, sess Session) (*PartnerStatus, error) {
	conv, err := b.admit(ctx, sess, "partner_status")
	if err != nil {
		return nil, err
	}

	partner := store.Partner(sess.Side)
	st, err := b.store.GetStatus(ctx, sess.ConversationID, partner)
	if err != nil {
		return nil, kkErrors.Wrap(err, "partner status")
	}

	role := conv.RoleA
	if partner == store.SideB {
		role = conv.RoleB
	}
	alive := b.now().Sub(st.LastHeartbeat) < b.opts.AliveWithin
	if err := b.audit.Record(ctx, sess.ConversationID, sess.Side, "partner_status", store.OutcomeAllowed, map[string]string{
		"partner_status": st.Status,
		"alive":          strconv.FormatBool(alive),
	}); err != nil {
		return nil, err
	}
	return &PartnerStatus{
		Role:          role,
		Status:        st.Status,
		Alive:         alive,
		LastHeartbeat: st.LastHeartbeat,
	}, nil
}

// SetStatus records a side's declared status and refreshes its heartbeat.
func (b *Bridge) SetStatus(ctx context.Context, sess Session, status string) error {
	if _, err := b.admit(ctx, sess, "set_status"); err != nil {
		return err
	}
	if _, ok := sessionStatuses[status]; !ok {
		return b.blocked(ctx, sess, "set_status", kkErrors.InvalidInput(fmt.Sprintf("unknown status %q", status)))
	}
	if err := b.store.UpsertStatus(ctx, &store.SessionStatus{
		ConversationID: sess.ConversationID,
		Side:           sess.Side,
		Status:         status,
		LastHeartbeat:  b.now(),
	}); err != nil {
		return kkErrors.Wrap(err, "set status")
	}
	return b.audit.Record(ctx, sess.ConversationID, sess.Side, "set_status", store.OutcomeAllowed, map[string]string{
		"status": status,
	})
}

// EnableGuard arms the caller's execution guard and returns the phrase a
// human must type to continue the sequence.
func (b *Bridge) EnableGuard(ctx context.Context, sess Session, settings guard.Settings) (string, error) {
	if _, err := b.admit(ctx, sess, "enable_guard"); err != nil {
		return "", err
	}
	return b.guard.Enable(ctx, sess.ConversationID, sess.Side, settings)
}

// GuardStatus reports the caller's guard stage, "disabled" when not armed.
func (b *Bridge) GuardStatus(ctx context.Context, sess Session) (string, error) {
	if _, err := b.admit(ctx, sess, "guard_status"); err != nil {
		return "", err
	}
	gs, err := b.guard.Status(ctx, sess.ConversationID, sess.Side)
	if err != nil {
		return "", err
	}
	stage := string(store.ModeDisabled)
	if gs != nil {
		stage = string(gs.Stage)
	}
	if err := b.audit.Record(ctx, sess.ConversationID, sess.Side, "guard_status", store.OutcomeAllowed, map[string]string{
		"stage": stage,
	}); err != nil {
		return "", err
	}
	return stage, nil
}

// Execute runs one approved command through the executor.
func (b *Bridge) Execute(ctx context.Context, sess Session, token, commandLine string, dryRun bool) (*executor.Result, error) {
	if _, err := b.admit(ctx, sess, "execute_command"); err != nil {
		return nil, err
	}
	return b.exec.Execute(ctx, &executor.Request{
		ConversationID: sess.ConversationID,
		Side:           sess.Side,
		Token:          token,
		CommandLine:    commandLine,
		DryRun:         dryRun,
	})
}

// verify authenticates the session and audits rejections.
func (b *Bridge) verify(ctx context.Context, sess Session, action string) (*store.Conversation, error) {
	conv, err := b.auth.Verify(ctx, sess.ConversationID, sess.Side, sess.Secret)
	if err != nil {
		logger.With(ctx).Warn("Session rejected", "action", action, "kind", kkErrors.Kind(err))
		_ = b.audit.Record(ctx, sess.ConversationID, sess.Side, action, store.OutcomeBlocked, map[string]string{
			"kind": kkErrors.Kind(err),
		})
		return nil, err
	}
	return conv, nil
}

// admit authenticates and then charges the rate limiter, auditing any denial.
func (b *Bridge) admit(ctx context.Context, sess Session, action string) (*store.Conversation, error) {
	conv, err := b.verify(ctx, sess, action)
	if err != nil {
		return nil, err
	}
	denial, err := b.limiter.Allow(ctx, sess.key())
	if err != nil {
		detail := map[string]string{"kind": kkErrors.Kind(err)}
		if denial != nil {
			detail["window"] = denial.Window
			detail["retry_after"] = denial.RetryAfter.Round(time.Millisecond).String()
		}
		_ = b.audit.Record(ctx, sess.ConversationID, sess.Side, action, store.OutcomeBlocked, detail)
		return nil, err
	}
	return conv, nil
}

func (b *Bridge) blocked(ctx context.Context, sess Session, action string, cause error) error {
	_ = b.audit.Record(ctx, sess.ConversationID, sess.Side, action, store.OutcomeBlocked, map[string]string{
		"kind": kkErrors.Kind(cause),
	})
	return cause
}

// touch refreshes the caller's heartbeat without disturbing its declared
// status.
func (b *Bridge) touch(ctx context.Context, sess Session, now time.Time) error {
	return b.store.TouchHeartbeat(ctx, sess.ConversationID, sess.Side, now)
}
