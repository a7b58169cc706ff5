package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		convID, _ := cmd.Flags().GetString("conversation")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := comps.audit.Tail(cmd.Context(), convID, limit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			scope := e.ConversationID
			if e.Side != "" {
				scope += "/" + e.Side
			}
			if scope == "" {
				scope = "-"
			}
			fmt.Printf("#%d %s  %-20s %-8s %s%s\n",
				e.Seq, formatTime(e.CreatedAt), e.Action, e.Outcome, scope, formatDetail(e.Detail))
		}
		return nil
	},
}

func formatDetail(detail map[string]string) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+detail[k])
	}
	return "  " + strings.Join(parts, " ")
}

func init() {
	auditCmd.Flags().String("conversation", "", "filter by conversation id")
	auditCmd.Flags().Int("limit", 50, "maximum entries to show")
	rootCmd.AddCommand(auditCmd)
}
