package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anortham/codesearch-engine/internal/backup"
)

func newBackupCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "backup",
		Short: "Export and import memory backups",
	}
	c.AddCommand(newBackupExportCmd())
	c.AddCommand(newBackupImportCmd())
	return c
}

func newBackupExportCmd() *cobra.Command {
	var includeLocal bool

	c := &cobra.Command{
		Use:   "export",
		Short: "Export every memory to a timestamped JSON backup file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return fmt.Errorf("open engine: %w", err)
			}
			defer func() { _ = e.Shutdown(cmd.Context()) }()

			res, err := e.Backup().Export(cmd.Context(), includeLocal)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			st := styles(cmd)
			if !res.Success {
				fmt.Fprintln(cmd.OutOrStdout(), st.Error.Render("export failed"))
				return fmt.Errorf("export did not succeed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d memories to %s\n", st.Success.Render("exported"), res.Count, res.Path)
			return nil
		},
	}
	c.Flags().BoolVar(&includeLocal, "include-local", false, "Include the private local memory index")
	return c
}

func newBackupImportCmd() *cobra.Command {
	var (
		path         string
		types        []string
		includeLocal bool
	)

	c := &cobra.Command{
		Use:   "import",
		Short: "Restore memories from a JSON backup file",
		Long:  "Restore memories from a JSON backup file. Without --path, the most recent backup is used.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return fmt.Errorf("open engine: %w", err)
			}
			defer func() { _ = e.Shutdown(cmd.Context()) }()

			res, err := e.Backup().Import(cmd.Context(), backup.ImportOptions{
				Path:         path,
				Types:        types,
				IncludeLocal: includeLocal,
			})
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			st := styles(cmd)
			if !res.Success {
				fmt.Fprintln(cmd.OutOrStdout(), st.Error.Render("import failed; snapshots were rolled back"))
				return fmt.Errorf("import did not succeed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d memories\n", st.Success.Render("restored"), res.Count)
			return nil
		},
	}
	c.Flags().StringVar(&path, "path", "", "Backup file to restore from (default: most recent)")
	c.Flags().StringSliceVar(&types, "type", nil, "Restrict restore to these memory types (repeatable)")
	c.Flags().BoolVar(&includeLocal, "include-local", false, "Also restore memories routed to the private local index")
	return c
}
