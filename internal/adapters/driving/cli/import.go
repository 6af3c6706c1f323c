package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driving/tui"
	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

var importCmd = &cobra.Command{
	Use:   "import [collection]",
	Short: "Import a collection's attachments",
	Long: `Import every attachment of a collection into the local document store.

The collection may be given by name or by key. Phase 1 downloads all
attachment files, phase 2 converts, chunks, embeds and stores them. Both
phases checkpoint their progress, so an interrupted run can be continued
with 'refsync resume'.

Examples:
  # Import by collection name
  refsync import "Machine Learning Papers"

  # Import including sub-collections, excluding drafts
  refsync import Papers --include-sub --exclude-tag draft

  # Download now, process later
  refsync import Papers --download-only
  refsync process <run-id>`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// Flags for import.
var (
	importStrategy     string
	importIncludeSub   bool
	importTags         []string
	importExcludeTags  []string
	importBatchSize    int
	importWorkers      int
	importFailFast     bool
	importDownloadOnly bool
)

func init() {
	importCmd.Flags().StringVar(
		&importStrategy, "strategy", "", "Source strategy (auto, local-first, remote-first, local-only, remote-only)")
	importCmd.Flags().BoolVar(
		&importIncludeSub, "include-sub", false, "Include sub-collections recursively")
	importCmd.Flags().StringArrayVar(
		&importTags, "tag", nil, "Only import items with at least one matching tag (repeatable)")
	importCmd.Flags().StringArrayVar(
		&importExcludeTags, "exclude-tag", nil, "Skip items with a matching tag (repeatable)")
	importCmd.Flags().IntVar(
		&importBatchSize, "batch-size", 0, "Attachments per checkpoint flush during downloads")
	importCmd.Flags().IntVar(
		&importWorkers, "workers", 0, "Download worker count")
	importCmd.Flags().BoolVar(
		&importFailFast, "fail-fast", false, "Abort on the first document failure")
	importCmd.Flags().BoolVar(
		&importDownloadOnly, "download-only", false, "Stop after downloading; process later with 'refsync process'")

	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	opts, err := importOptions(args[0])
	if err != nil {
		return err
	}

	summary, err := runWithProgress(cmd, func(ctx context.Context) (*driving.ImportSummary, error) {
		return importer.Run(ctx, opts)
	})
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}

// importOptions resolves flags against configured defaults.
func importOptions(collection string) (driving.ImportOptions, error) {
	strategy := importStrategy
	if strategy == "" && configStore != nil {
		strategy = configStore.GetString(configfile.KeyImportStrategy)
	}
	if strategy == "" {
		strategy = string(domain.StrategyAuto)
	}
	parsed, err := domain.ParseStrategy(strategy)
	if err != nil {
		return driving.ImportOptions{}, err
	}

	batchSize := importBatchSize
	if batchSize == 0 && configStore != nil {
		batchSize = configStore.GetInt(configfile.KeyImportBatchSize)
	}
	workers := importWorkers
	if workers == 0 && configStore != nil {
		workers = configStore.GetInt(configfile.KeyImportWorkers)
	}

	return driving.ImportOptions{
		Collection: collection,
		Strategy:   parsed,
		IncludeSub: importIncludeSub,
		Tags: domain.TagFilter{
			Include: importTags,
			Exclude: importExcludeTags,
		},
		BatchSize:    batchSize,
		Workers:      workers,
		FailFast:     importFailFast,
		DownloadOnly: importDownloadOnly,
	}, nil
}

// runWithProgress runs an import while displaying progress updates.
func runWithProgress(
	cmd *cobra.Command,
	start func(context.Context) (*driving.ImportSummary, error),
) (*driving.ImportSummary, error) {
	ctx := cmd.Context()

	if !noTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		return tui.RunProgress(ctx, importer, start)
	}

	type outcome struct {
		summary *driving.ImportSummary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := start(ctx)
		done <- outcome{summary, err}
	}()

	// Poll progress every 500ms. Verbose mode logs every step already,
	// so the one-line ticker would only garble the output.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if !logger.IsVerbose() {
				cmd.Println()
			}
			return out.summary, out.err
		case <-ticker.C:
			if logger.IsVerbose() {
				continue
			}
			for _, status := range importer.Active() {
				cmd.Printf("\r%s: downloaded %d, processed %d/%d (%d skipped, %d failed)   ",
					status.Phase, status.Downloaded,
					status.DocumentsCompleted, status.DocumentsTotal,
					status.DocumentsSkipped, status.DocumentsFailed)
			}
		}
	}
}

// printSummary reports a run's outcome, including every failure.
func printSummary(cmd *cobra.Command, summary *driving.ImportSummary) {
	cmd.Printf("Run %s: %s\n", summary.RunID, summary.Phase)
	cmd.Printf("  %d documents: %d completed, %d skipped, %d failed\n",
		summary.Stats.DocumentsTotal, summary.Stats.DocumentsCompleted,
		summary.Stats.DocumentsSkipped, summary.Stats.DocumentsFailed)
	cmd.Printf("  %d chunks created in %.1fs\n",
		summary.Stats.ChunksCreated, summary.Stats.ElapsedSeconds)

	for _, doc := range summary.Documents {
		if doc.Phase == domain.DocFailed {
			cmd.Printf("  failed: %s: %s\n", doc.DocumentID, doc.Error)
		}
	}
}
