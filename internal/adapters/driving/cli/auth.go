package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage web API credentials",
	Long: `Store, inspect, and remove the API key used for the library's web API.

The key is kept in the refsync config file, readable only by the current
user. Without a key, imports still work against the local library
database; the remote source just reports authentication errors.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the web API key",
	Long: `Store the web API key.

The key is read from the --key flag when given, otherwise prompted for
without echo.`,
	RunE: runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show whether an API key is configured",
	RunE:  runAuthShow,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the stored API key",
	RunE:  runAuthRemove,
}

var authSetKey string

func init() {
	authSetCmd.Flags().StringVar(
		&authSetKey, "key", "", "API key (prompted for when omitted)")

	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthSet(cmd *cobra.Command, _ []string) error {
	if configStore == nil {
		return errors.New("config store not configured")
	}

	key := strings.TrimSpace(authSetKey)
	if key == "" {
		read, err := promptForKey(cmd)
		if err != nil {
			return err
		}
		key = read
	}
	if key == "" {
		return errors.New("no API key provided")
	}

	if err := configStore.Set(configfile.KeyAPIKey, key); err != nil {
		return fmt.Errorf("storing API key: %w", err)
	}
	cmd.Printf("API key stored in %s\n", configStore.Path())
	return nil
}

// promptForKey reads the key without echo when stdin is a terminal.
func promptForKey(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		cmd.Print("API key: ")
		raw, err := term.ReadPassword(fd)
		cmd.Println()
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func runAuthShow(cmd *cobra.Command, _ []string) error {
	if configStore == nil {
		return errors.New("config store not configured")
	}

	key := configStore.GetString(configfile.KeyAPIKey)
	if key == "" {
		cmd.Println("No API key configured.")
		return nil
	}
	cmd.Printf("API key configured (%s)\n", maskKey(key))
	return nil
}

func runAuthRemove(cmd *cobra.Command, _ []string) error {
	if configStore == nil {
		return errors.New("config store not configured")
	}

	if err := configStore.Set(configfile.KeyAPIKey, ""); err != nil {
		return fmt.Errorf("removing API key: %w", err)
	}
	cmd.Println("API key removed.")
	return nil
}

// maskKey shows just enough of the key to recognise it.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
