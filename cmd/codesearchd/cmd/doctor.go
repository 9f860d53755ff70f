package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anortham/codesearch-engine/internal/cliui"
	"github.com/anortham/codesearch-engine/internal/engine"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight diagnostics",
		Long:  "Check disk space, file descriptor headroom, and stale index locks under the engine's base directory.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) error {
	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(cmd.Context()) }()

	report := e.Doctor(cmd.Context())
	st := styles(cmd)
	for _, r := range report.Results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s  %s\n", statusLabel(st, r.Status), r.Name, r.Message)
	}
	if report.HasCriticalFailures() {
		return fmt.Errorf("system check failed")
	}
	return nil
}

func statusLabel(st cliui.Styles, status engine.CheckStatus) string {
	switch status {
	case engine.StatusPass:
		return st.Success.Render("PASS")
	case engine.StatusWarn:
		return st.Warning.Render("WARN")
	default:
		return st.Error.Render("FAIL")
	}
}
