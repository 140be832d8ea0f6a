package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewDefaultFactory builds the gateway's built-in command tree (/help,
// /ping, /model), adapted from the teacher's wecom-openai-example
// newRootCmd. Accounts may wrap or replace it with their own Factory.
func NewDefaultFactory() Factory {
	return func() *cobra.Command {
		root := &cobra.Command{
			Use:           "bot",
			SilenceUsage:  true,
			SilenceErrors: true,
		}

		root.AddCommand(&cobra.Command{
			Use:   "ping",
			Short: "health check",
			RunE: func(cmd *cobra.Command, args []string) error {
				cmd.Println("pong")
				return nil
			},
		})

		root.AddCommand(&cobra.Command{
			Use:   "help",
			Short: "list available commands",
			RunE: func(cmd *cobra.Command, args []string) error {
				cmd.Println(strings.TrimSpace(cmd.Root().UsageString()))
				return nil
			},
		})

		root.AddCommand(&cobra.Command{
			Use:   "model [name]",
			Short: "show or switch the active model for this conversation",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				execCtx := FromContext(cmd.Context())
				if execCtx == nil {
					return fmt.Errorf("no execution context")
				}
				if len(args) == 0 {
					cmd.Println(execCtx.Values["model"])
					return nil
				}
				if execCtx.Values == nil {
					execCtx.Values = Values{}
				}
				execCtx.Values["model"] = args[0]
				if execCtx.Store != nil {
					if err := execCtx.Store.Save(execCtx.ConversationKey(), execCtx.Values); err != nil {
						return err
					}
				}
				cmd.Printf("model set to %s\n", args[0])
				return nil
			},
		})

		return root
	}
}
