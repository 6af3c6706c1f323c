package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Continue an interrupted import run",
	Long: `Continue an interrupted import run from its checkpoint.

Documents already done are left alone, failed documents are retried from
scratch, and documents interrupted mid-pipeline continue from their last
completed stage.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var resumeFailFast bool

func init() {
	resumeCmd.Flags().BoolVar(
		&resumeFailFast, "fail-fast", false, "Abort on the first document failure")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	runID := args[0]
	summary, err := runWithProgress(cmd, func(ctx context.Context) (*driving.ImportSummary, error) {
		return importer.Resume(ctx, runID, driving.ImportOptions{FailFast: resumeFailFast})
	})
	if errors.Is(err, domain.ErrCheckpointCorrupt) {
		return fmt.Errorf("checkpoint for run %s is corrupt; inspect it or remove it with 'refsync cleanup %s': %w", runID, runID, err)
	}
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}
