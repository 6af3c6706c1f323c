package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and change refsync settings",
	Long: `View and change refsync settings.

Keys use dotted notation matching the config file layout, for example:
  library.db_path     path of the reference manager's sqlite database
  library.storage_dir directory holding the manager's attachment copies
  api.base_url        base URL of the library's web API
  import.strategy     default source strategy
  import.workers      default download worker count
  embedding.base_url  embedding server URL (empty disables embeddings)
  embedding.model     embedding model name`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// shownKeys are the settings listed by 'config show', in display order.
var shownKeys = []string{
	configfile.KeyLibraryDBPath,
	configfile.KeyLibraryStorage,
	configfile.KeyAPIBaseURL,
	configfile.KeyImportStrategy,
	configfile.KeyImportWorkers,
	configfile.KeyImportBatchSize,
	configfile.KeyEmbeddingURL,
	configfile.KeyEmbeddingModel,
	configfile.KeyDataDir,
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if configStore == nil {
		return errors.New("config store not configured")
	}

	cmd.Printf("Config file: %s\n\n", configStore.Path())

	keys := append([]string(nil), shownKeys...)
	sort.Strings(keys)
	for _, key := range keys {
		value, ok := configStore.Get(key)
		if !ok {
			cmd.Printf("  %-22s (unset)\n", key)
			continue
		}
		cmd.Printf("  %-22s %v\n", key, value)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if configStore == nil {
		return errors.New("config store not configured")
	}

	key, raw := args[0], args[1]

	// Integers and booleans are stored typed so GetInt/GetBool work.
	var value any = raw
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	if err := configStore.Set(key, value); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	cmd.Printf("%s = %v\n", key, value)
	return nil
}
