// Package sweeper reclaims expired state on a schedule: conversations past
// their TTL (with everything that hangs off them) and approval tokens past
// theirs.
package sweeper

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/kakehashi/internal/audit"
	"github.com/harunnryd/kakehashi/internal/store"
)

const sweepTimeout = 30 * time.Second

// tokenRetention keeps expired tokens around for a while before deletion, so
// a late consumption attempt is told the token expired rather than that it
// was never issued.
const tokenRetention = time.Hour

type Sweeper struct {
	store store.Store
	audit *audit.Recorder
	cron  *cron.Cron
}

func New(st store.Store, rec *audit.Recorder) *Sweeper {
	return &Sweeper{
		store: st,
		audit: rec,
		cron:  cron.New(),
	}
}

// Start schedules the sweep and runs one immediately so a restart does not
// wait a full interval to reclaim stale state.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	go s.sweep()
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one cleanup pass. Exposed for the CLI's manual cleanup command.
func (s *Sweeper) Sweep(ctx context.Context) (conversations, tokens int64, err error) {
	now := time.Now()

	conversations, err = s.store.DeleteExpiredConversations(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = s.store.DeleteExpiredTokens(ctx, now.Add(-tokenRetention))
	if err != nil {
		return conversations, 0, err
	}

	if conversations > 0 || tokens > 0 {
		if err := s.audit.Record(ctx, "", "", "cleanup", store.OutcomeAllowed, map[string]string{
			"conversations": strconv.FormatInt(conversations, 10),
			"tokens":        strconv.FormatInt(tokens, 10),
		}); err != nil {
			return conversations, tokens, err
		}
	}
	return conversations, tokens, nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	conversations, tokens, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		return
	}
	if conversations > 0 || tokens > 0 {
		slog.Info("Swept expired state",
			"conversations", conversations,
			"tokens", tokens,
		)
	}
}
