package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

var downloadCmd = &cobra.Command{
	Use:   "download [collection]",
	Short: "Download a collection's attachments without processing them",
	Long: `Run phase 1 only: download every attachment of a collection and stop.
The downloaded run can be processed later with 'refsync process'.

Equivalent to 'refsync import --download-only'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(
		&importStrategy, "strategy", "", "Source strategy (auto, local-first, remote-first, local-only, remote-only)")
	downloadCmd.Flags().BoolVar(
		&importIncludeSub, "include-sub", false, "Include sub-collections recursively")
	downloadCmd.Flags().StringArrayVar(
		&importTags, "tag", nil, "Only import items with at least one matching tag (repeatable)")
	downloadCmd.Flags().StringArrayVar(
		&importExcludeTags, "exclude-tag", nil, "Skip items with a matching tag (repeatable)")
	downloadCmd.Flags().IntVar(
		&importBatchSize, "batch-size", 0, "Attachments per checkpoint flush during downloads")
	downloadCmd.Flags().IntVar(
		&importWorkers, "workers", 0, "Download worker count")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	opts, err := importOptions(args[0])
	if err != nil {
		return err
	}
	opts.DownloadOnly = true

	summary, err := runWithProgress(cmd, func(ctx context.Context) (*driving.ImportSummary, error) {
		return importer.Run(ctx, opts)
	})
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}
