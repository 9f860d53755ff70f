package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "index [path]",
		Short: "Register and index a workspace",
		Long: `Register a workspace with the engine and build its inverted index if it
doesn't already have one. The workspace's watcher runs only while this
command runs; the engine shuts down when the command returns.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			return runIndex(cmd, path)
		},
	}
	return c
}

func runIndex(cmd *cobra.Command, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	st := styles(cmd)
	ws, err := e.ActivateWorkspace(abs, filepath.Base(abs))
	if err != nil {
		return fmt.Errorf("activate workspace: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Success.Render("indexed"), ws.OriginalPath)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", st.Dim.Render("hash:"), ws.Hash)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s %d\n", st.Dim.Render("documents:"), ws.DocumentCount)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s %d bytes\n", st.Dim.Render("index size:"), ws.IndexSizeBytes)
	return nil
}
