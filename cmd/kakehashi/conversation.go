package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Inspect conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		convs, err := comps.store.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("no conversations")
			return nil
		}

		now := time.Now()
		for _, c := range convs {
			state := "active"
			if c.Expired(now) {
				state = "expired"
			}
			fmt.Printf("%s  %s <-> %s  created %s  %s\n",
				c.ID, c.RoleA, c.RoleB, formatTime(c.CreatedAt), state)
		}
		return nil
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation's full message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		conv, err := comps.store.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("conversation %s\n  %s (a) <-> %s (b)\n  created %s, expires %s\n\n",
			conv.ID, conv.RoleA, conv.RoleB, formatTime(conv.CreatedAt), formatTime(conv.ExpiresAt))

		msgs, err := comps.store.ListMessages(cmd.Context(), conv.ID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			read := " "
			if m.Read {
				read = "*"
			}
			fmt.Printf("[%s] %s %s -> %s (%s): %s\n",
				formatTime(m.CreatedAt), read, m.From, m.To, m.Category, m.Body)
		}
		return nil
	},
}

var conversationSecretsCmd = &cobra.Command{
	Use:   "secrets <conversation-id>",
	Short: "Show both session secrets for re-issuing to the agents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		conv, err := comps.store.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("a (%s): %s\nb (%s): %s\n", conv.RoleA, conv.SecretA, conv.RoleB, conv.SecretB)
		return nil
	},
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List live approval tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		comps, err := openComponents()
		if err != nil {
			return err
		}
		defer comps.Close()

		tokens, err := comps.store.ListActiveTokens(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("no active tokens")
			return nil
		}
		for _, t := range tokens {
			fmt.Printf("%s  conversation %s side %s  expires %s\n",
				t.Value, t.ConversationID, t.Side, formatTime(t.ExpiresAt))
		}
		return nil
	},
}

func init() {
	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationShowCmd)
	conversationCmd.AddCommand(conversationSecretsCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(tokensCmd)
}
