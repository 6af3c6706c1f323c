package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

var processCmd = &cobra.Command{
	Use:   "process [run-id]",
	Short: "Process a previously downloaded run",
	Long: `Run phase 2 (convert, chunk, embed, store) for a run that was started
with 'refsync import --download-only'.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var processFailFast bool

func init() {
	processCmd.Flags().BoolVar(
		&processFailFast, "fail-fast", false, "Abort on the first document failure")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	opts := driving.ImportOptions{
		ProcessOnly: true,
		RunID:       args[0],
		FailFast:    processFailFast,
	}
	summary, err := runWithProgress(cmd, func(ctx context.Context) (*driving.ImportSummary, error) {
		return importer.Run(ctx, opts)
	})
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}
