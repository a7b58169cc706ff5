package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harunnryd/kakehashi/internal/sweeper"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired conversations and approval tokens now",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		conversations, tokens, err := sweeper.New(comps.store, comps.audit).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d conversations, %d tokens\n", conversations, tokens)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
