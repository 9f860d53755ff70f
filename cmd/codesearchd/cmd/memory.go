package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anortham/codesearch-engine/internal/memorystore"
)

func newMemoryCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "memory",
		Short: "Store, search, and recall memory records",
	}
	c.AddCommand(newMemoryStoreCmd())
	c.AddCommand(newMemorySearchCmd())
	c.AddCommand(newMemorySimilarCmd())
	return c
}

func newMemoryStoreCmd() *cobra.Command {
	var (
		typ       string
		content   string
		shared    bool
		sessionID string
		files     []string
		fields    []string
	)

	c := &cobra.Command{
		Use:   "store",
		Short: "Store a new memory record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMemoryStore(cmd, typ, content, shared, sessionID, files, fields)
		},
	}
	c.Flags().StringVar(&typ, "type", memorystore.TypeTechnicalDebt, "Memory type")
	c.Flags().StringVar(&content, "content", "", "Memory content (required)")
	c.Flags().BoolVar(&shared, "shared", true, "Store in the shared project index instead of the private local one")
	c.Flags().StringVar(&sessionID, "session-id", "", "Originating session id")
	c.Flags().StringSliceVar(&files, "file", nil, "File this memory references (repeatable)")
	c.Flags().StringSliceVar(&fields, "field", nil, "Extended field as key=value (repeatable)")
	return c
}

func runMemoryStore(cmd *cobra.Command, typ, content string, shared bool, sessionID string, files, fieldArgs []string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("--content is required")
	}

	m := &memorystore.Memory{
		Type:          typ,
		Content:       content,
		IsShared:      shared,
		SessionID:     sessionID,
		FilesInvolved: files,
	}
	for _, kv := range fieldArgs {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--field %q must be key=value", kv)
		}
		m.SetField(key, memorystore.StringField(val))
	}

	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	ok, err := e.StoreMemory(cmd.Context(), m)
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	st := styles(cmd)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), st.Warning.Render("store rejected: empty content"))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Success.Render("stored"), m.ID)
	return nil
}

func newMemorySearchCmd() *cobra.Command {
	var (
		query      string
		types      []string
		maxResults int
		jsonOut    bool
	)

	c := &cobra.Command{
		Use:   "search",
		Short: "Search memory records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMemorySearch(cmd, query, types, maxResults, jsonOut)
		},
	}
	c.Flags().StringVarP(&query, "query", "q", "*", "Search query (natural language or boolean/field syntax)")
	c.Flags().StringSliceVar(&types, "type", nil, "Restrict to these memory types (repeatable)")
	c.Flags().IntVar(&maxResults, "max-results", 20, "Maximum number of results")
	c.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return c
}

func runMemorySearch(cmd *cobra.Command, query string, types []string, maxResults int, jsonOut bool) error {
	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	result, err := e.SearchMemory(cmd.Context(), memorystore.SearchRequest{
		Query:      query,
		Types:      types,
		MaxResults: maxResults,
	})
	if err != nil {
		return fmt.Errorf("search memory: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	st := styles(cmd)
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Warning.Render("warning:"), w)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Header.Render("summary:"), result.Insights.Summary)
	for _, m := range result.Memories {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", st.Path.Render(m.ID), m.Type, truncate(m.Content, 80))
	}
	return nil
}

func newMemorySimilarCmd() *cobra.Command {
	var k int

	c := &cobra.Command{
		Use:   "similar <id>",
		Short: "Find memories similar to an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySimilar(cmd, args[0], k)
		},
	}
	c.Flags().IntVar(&k, "k", 10, "Maximum number of similar memories to return")
	return c
}

func runMemorySimilar(cmd *cobra.Command, id string, k int) error {
	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	results, err := e.MemoryStore().Similar(cmd.Context(), id, k)
	if err != nil {
		return fmt.Errorf("similar: %w", err)
	}

	st := styles(cmd)
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), st.Dim.Render("no similar memories found"))
		return nil
	}
	for _, m := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", st.Path.Render(m.ID), m.Type, truncate(m.Content, 80))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
