package main

import (
	"fmt"
	"time"

	"github.com/harunnryd/kakehashi/internal/audit"
	"github.com/harunnryd/kakehashi/internal/config"
	"github.com/harunnryd/kakehashi/internal/guard"
	"github.com/harunnryd/kakehashi/internal/store"
)

// components is the subset of the stack the management commands need. The
// serve command builds the rest on top of it.
type components struct {
	store store.Store
	audit *audit.Recorder
	guard *guard.Guard
}

func openComponents() (*components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rec, err := audit.New(st, cfg.Audit.MirrorPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open audit recorder: %w", err)
	}

	stageTTL, err := config.DurationOrDefault(cfg.Guard.StageTTL, config.DefaultGuardStageTTL)
	if err != nil {
		st.Close()
		return nil, err
	}
	tokenTTL, err := config.DurationOrDefault(cfg.Guard.TokenTTL, config.DefaultGuardTokenTTL)
	if err != nil {
		st.Close()
		return nil, err
	}

	g := guard.New(st, rec, guard.Options{
		Optin:         cfg.Guard.Optin,
		ConfirmPhrase: cfg.Guard.ConfirmPhrase,
		StageTTL:      stageTTL,
		TokenTTL:      tokenTTL,
		StateDir:      cfg.Guard.StateDir,
	})

	return &components{store: st, audit: rec, guard: g}, nil
}

func (c *components) Close() error {
	return c.store.Close()
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
