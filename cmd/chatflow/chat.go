package main

import (
	"os"

	"github.com/aretw0/chatflow/internal/cli"
	"github.com/aretw0/chatflow/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <file>",
	Short: "Converse with a flow document in the terminal",
	Long: `Activates a flow document on an in-memory engine and simulates a chat with it.
Type /quit to leave, /reset to start over and /session to inspect the state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		chatID, _ := cmd.Flags().GetString("chat-id")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		return cli.RunChat(ctx, cli.ChatOptions{
			FlowPath: args[0],
			ChatID:   chatID,
			In:       os.Stdin,
			Out:      os.Stdout,
			Logger:   logger,
			Banner:   tui.IsTerminal(os.Stdout),
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("chat-id", "local", "Chat identifier of the simulated conversation")
}
