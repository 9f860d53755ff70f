package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List registered workspaces and catalog statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	workspaces, err := e.Registry().All()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	stats, err := e.Registry().Stats()
	if err != nil {
		return fmt.Errorf("registry stats: %w", err)
	}

	st := styles(cmd)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d workspaces, %d orphaned indexes, %d documents, %d bytes\n",
		st.Header.Render("registry:"), stats.TotalWorkspaces, stats.TotalOrphans, stats.TotalDocuments, stats.TotalIndexSizeBytes)

	for _, ws := range workspaces {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %-10s  %6d docs  %s\n",
			st.Path.Render(ws.Hash), ws.Status, ws.DocumentCount, ws.OriginalPath)
	}
	return nil
}
