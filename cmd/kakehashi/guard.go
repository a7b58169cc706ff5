package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harunnryd/kakehashi/internal/command"
	"github.com/harunnryd/kakehashi/internal/executor"
	"github.com/harunnryd/kakehashi/internal/redact"
	"github.com/harunnryd/kakehashi/internal/store"
)

// The guard's human-side steps live here: the agent can only arm the guard
// over the bridge, everything that advances it requires someone at this
// terminal.

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Operate the execution guard",
}

var guardConfirmCmd = &cobra.Command{
	Use:   "confirm <conversation-id> <side> <phrase...>",
	Short: "Type the confirmation phrase for an armed guard",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		phrase := strings.Join(args[2:], " ")
		path, err := comps.guard.Confirm(cmd.Context(), args[0], args[1], phrase)
		if err != nil {
			return err
		}
		fmt.Printf("confirmed; approval code written to %s\n", path)
		return nil
	},
}

var guardCodeCmd = &cobra.Command{
	Use:   "code <conversation-id> <side>",
	Short: "Show the pending approval code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		code, err := comps.guard.ReadCodeFile(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	},
}

var guardApproveCmd = &cobra.Command{
	Use:   "approve <conversation-id> <side> <code>",
	Short: "Exchange the approval code for a single-use execution token",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		token, err := comps.guard.Approve(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("token %s (expires %s)\n", token.Value, formatTime(token.ExpiresAt))
		return nil
	},
}

var guardDisableCmd = &cobra.Command{
	Use:   "disable <conversation-id> <side>",
	Short: "Reset a side's guard to disabled",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		return comps.guard.Disable(cmd.Context(), args[0], args[1])
	},
}

var guardStatusCmd = &cobra.Command{
	Use:   "status <conversation-id>",
	Short: "Show both sides' guard stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		for _, side := range []string{store.SideA, store.SideB} {
			gs, err := comps.guard.Status(cmd.Context(), args[0], side)
			if err != nil {
				return err
			}
			if gs == nil {
				fmt.Printf("%s: disabled\n", side)
				continue
			}
			fmt.Printf("%s: %s (mode %s, workspace %s, sandbox %t, stage expires %s)\n",
				side, gs.Stage, gs.Mode, gs.Workspace, gs.Sandbox, formatTime(gs.StageExpiresAt))
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <conversation-id> <side> <snapshot-branch>",
	Short: "Restore a workspace to a snapshot made before a run",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		validator, err := command.New(cfg.Command.ExtraBlocked)
		if err != nil {
			return err
		}
		exec := executor.New(comps.store, comps.audit, comps.guard, validator, redact.New(), nil, executor.Options{})

		if err := exec.RollbackWorkspace(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("workspace restored to %s\n", args[2])
		return nil
	},
}

func init() {
	guardCmd.AddCommand(guardConfirmCmd)
	guardCmd.AddCommand(guardCodeCmd)
	guardCmd.AddCommand(guardApproveCmd)
	guardCmd.AddCommand(guardDisableCmd)
	guardCmd.AddCommand(guardStatusCmd)
	rootCmd.AddCommand(guardCmd)
	rootCmd.AddCommand(rollbackCmd)
}
