package main

import (
	"fmt"
	"io"

	"github.com/aretw0/chatflow/internal/cli"
	"github.com/aretw0/chatflow/internal/compiler"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a flow document for consistency",
	Long: `Checks a flow document against the transfer schema, compiles its graph and
reports nodes that no trigger can reach.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runValidate(cmd.OutOrStdout(), args[0]); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(w io.Writer, path string) error {
	flow, err := cli.LoadFlowFile(path)
	if err != nil {
		return err
	}
	snap, err := compiler.Build(flow)
	if err != nil {
		return err
	}

	for _, id := range snap.Graph.Unreachable() {
		fmt.Fprintf(w, "warning: node %q is unreachable from any trigger\n", id)
	}
	fmt.Fprintf(w, "Flow '%s' is valid: %d nodes, %d triggers.\n", flow.ID, len(flow.Nodes), snap.Index.Len())
	return nil
}
