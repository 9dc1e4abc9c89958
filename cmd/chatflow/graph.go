package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/chatflow/internal/cli"
	"github.com/aretw0/chatflow/internal/presentation/graph"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph [file]",
	Short: "Export the flow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of a flow document, or of a stored flow
with --flow. With --chat the path of that chat's session is highlighted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flowID, _ := cmd.Flags().GetString("flow")
		chatID, _ := cmd.Flags().GetString("chat")

		if len(args) == 1 {
			flow, err := cli.LoadFlowFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flow, nil))
			return nil
		}
		if flowID == "" {
			return errors.New("either a flow file or --flow is required")
		}

		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		flow, err := rt.Engine.GetFlow(cmd.Context(), flowID)
		if err != nil {
			return err
		}
		var overlay *graph.Overlay
		if chatID != "" {
			sess, err := rt.Engine.GetSession(cmd.Context(), chatID)
			if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				return err
			}
			if sess != nil && sess.FlowID == flow.ID {
				overlay = graph.OverlayFor(sess)
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(flow, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("flow", "", "ID of a stored flow to render")
	graphCmd.Flags().String("chat", "", "Highlight the session of this chat (with --flow)")
}
