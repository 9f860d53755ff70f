package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anortham/codesearch-engine/internal/pathresolve"
)

func newSearchCmd() *cobra.Command {
	var workspace string
	var maxResults int

	c := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed workspace's file content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, workspace, args[0], maxResults)
		},
	}
	c.Flags().StringVarP(&workspace, "workspace", "w", ".", "Workspace root to search (must already be indexed)")
	c.Flags().IntVar(&maxResults, "max-results", 20, "Maximum number of hits to print")
	return c
}

func runSearch(cmd *cobra.Command, workspace, query string, maxResults int) error {
	canonical, err := pathresolve.Canonicalize(workspace)
	if err != nil {
		return err
	}

	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	ws, ok, err := e.Registry().GetByPath(canonical)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not indexed yet; run 'codesearchd index %s' first", canonical, workspace)
	}

	hits, err := e.SearchFiles(cmd.Context(), ws.Hash, query, maxResults)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	st := styles(cmd)
	if len(hits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), st.Dim.Render("no matches"))
		return nil
	}

	for _, h := range hits {
		if h.LineNumber > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d  %s\n", st.Path.Render(h.Path), h.LineNumber, h.LineText)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", st.Path.Render(h.Path))
		}
	}
	return nil
}
