package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/chatflow/internal/cli"
	"github.com/spf13/cobra"
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage stored flows",
	Long:  `Import, list, activate and delete the flows in the configured flow store.`,
}

var flowImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a flow document as a new revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flow, err := cli.LoadFlowFile(args[0])
		if err != nil {
			return err
		}
		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		saved, err := rt.Engine.SaveFlow(cmd.Context(), flow)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored flow '%s' (version %d)\n", saved.ID, saved.Version)

		if activate, _ := cmd.Flags().GetBool("activate"); activate {
			if _, err := rt.Engine.ActivateFlow(cmd.Context(), saved.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated flow '%s'\n", saved.ID)
		}
		return nil
	},
}

var flowLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		flows, err := rt.Engine.ListFlows(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(flows) == 0 {
			fmt.Fprintln(out, "No flows stored.")
			return nil
		}
		for _, f := range flows {
			marker := " "
			if f.Active {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\t%s\tv%d\n", marker, f.ID, f.Name, f.Version)
		}
		return nil
	},
}

var flowActivateCmd = &cobra.Command{
	Use:   "activate <flow-id>",
	Short: "Make a stored flow the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		flow, err := rt.Engine.ActivateFlow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Activated flow '%s' (version %d)\n", flow.ID, flow.Version)
		return nil
	},
}

var flowActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Print the active flow document",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		flow, err := rt.Engine.GetActiveFlow(cmd.Context())
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(flow, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var flowRmCmd = &cobra.Command{
	Use:   "rm <flow-id>",
	Short: "Delete a stored flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, _, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRuntime(rt)

		if err := rt.Engine.DeleteFlow(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted flow '%s'\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flowCmd)
	flowCmd.AddCommand(flowImportCmd, flowLsCmd, flowActivateCmd, flowActiveCmd, flowRmCmd)
	flowImportCmd.Flags().Bool("activate", false, "Activate the flow after storing it")
}
