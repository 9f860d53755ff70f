// Package cmd provides the CLI commands for codesearchd: one cobra root
// command, persistent flags, subcommands registered in NewRootCmd, and
// Execute() as the sole package entry point main.go calls.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anortham/codesearch-engine/internal/cliui"
	"github.com/anortham/codesearch-engine/internal/engine"
	"github.com/anortham/codesearch-engine/pkg/version"
)

var (
	baseDir string
	noColor bool
)

// NewRootCmd creates the root command for the codesearchd CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codesearchd",
		Short:         "Local code search and memory engine",
		Long: `codesearchd indexes a source tree into a local inverted index, keeps it
live via filesystem watching, and layers a flexible memory store on top
for architectural decisions, technical-debt notes, and bug reports.

It is a CLI harness over the engine, not a protocol server: an MCP or
other request/response transport is expected to sit on top of it.`,
		Version:      version.Short(),
		SilenceUsage: true,
	}
	root.SetVersionTemplate("codesearchd version {{.Version}}\n")

	root.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Engine base directory (default: $HOME/.codesearch)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command under a context canceled on SIGINT/SIGTERM,
// so every long-running subcommand observes a clean shutdown signal.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// openEngine builds an Engine rooted at the --base-dir flag (or the
// default per-user directory if empty). Every subcommand opens its own
// Engine and shuts it down before returning, since codesearchd is a
// one-shot CLI rather than a resident daemon.
func openEngine() (*engine.Engine, error) {
	return engine.Open(engine.Options{BaseDir: baseDir})
}

// styles returns the color/plain style set for cmd's configured output,
// honoring --no-color.
func styles(cmd *cobra.Command) cliui.Styles {
	return cliui.For(cmd.OutOrStdout(), noColor)
}
