// Package cli provides the cobra command tree for the refsync binary.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Driving-side dependencies, injected from main before Execute.
var (
	importer    driving.BatchImporter
	configStore driven.ConfigStore
)

var version = "dev"

var (
	verboseFlag bool
	noTUI       bool
)

var rootCmd = &cobra.Command{
	Use:   "refsync",
	Short: "Import reference library collections into a local document store",
	Long: `refsync imports document collections from a reference library into a
local chunked document store.

Attachment files come from the library's database on disk when one is
available, or from its web API otherwise. Imports are resumable: progress
is checkpointed after every state transition, and documents whose content
has not changed are skipped on re-import.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(
		&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(
		&noTUI, "no-tui", false, "Disable the full-screen progress display")
}

// Services are the dependencies the commands call into.
type Services struct {
	Importer driving.BatchImporter
	Config   driven.ConfigStore
}

// SetServices injects the command dependencies.
func SetServices(s Services) {
	importer = s.Importer
	configStore = s.Config
}

// SetVersion sets the version string printed by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the command tree.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
