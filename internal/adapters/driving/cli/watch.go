package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch [collection]",
	Short: "Re-import a collection when the library database changes",
	Long: `Watch the local library database and re-import the collection whenever
it changes. Unchanged documents are skipped, so each re-import only
processes what the reference manager actually touched.

Changes are debounced: the import starts once the database has been quiet
for the debounce interval. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	watchCmd.Flags().DurationVar(
		&watchDebounce, "debounce", 10*time.Second, "Quiet period before re-importing")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}
	if configStore == nil {
		return errors.New("config store not configured")
	}

	dbPath := configStore.GetString(configfile.KeyLibraryDBPath)
	if dbPath == "" {
		return errors.New("no library database configured; set " + configfile.KeyLibraryDBPath)
	}

	opts, err := importOptions(args[0])
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: sqlite rewrites the database through journal
	// and WAL files next to it, which replaces inodes.
	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	cmd.Printf("Watching %s, importing %q on changes\n", dbPath, args[0])

	base := filepath.Base(dbPath)
	ctx := cmd.Context()

	// The timer is created stopped and armed on the first relevant event.
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("library change: %s", event)
			timer.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: %v", err)

		case <-timer.C:
			summary, err := importer.Run(ctx, opts)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				cmd.Printf("import failed: %v\n", err)
			}
			if summary != nil {
				printSummary(cmd, summary)
			}
		}
	}
}
