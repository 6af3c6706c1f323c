package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/refsync-cli/internal/core/ports/driving"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show progress of an import run",
	Long: `Show the progress counters of an import run. Without a run id,
lists every run this process knows about.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [run-id]",
	Short: "Remove a run's checkpoint and manifest",
	Long: `Remove a finished or abandoned run's checkpoint and manifest files.
Checkpoints are never removed automatically; a completed run keeps its
state around until cleaned up.`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	if len(args) == 0 {
		active := importer.Active()
		if len(active) == 0 {
			cmd.Println("No known runs.")
			return nil
		}
		for _, status := range active {
			printStatus(cmd, status)
		}
		return nil
	}

	status, err := importer.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("status of run %s: %w", args[0], err)
	}
	printStatus(cmd, status)
	return nil
}

func printStatus(cmd *cobra.Command, status *driving.ImportStatus) {
	state := "finished"
	if status.Running {
		state = "running"
	}
	cmd.Printf("Run %s (%s, %s)\n", status.RunID, state, status.Phase)
	cmd.Printf("  documents: %d total, %d completed, %d skipped, %d failed\n",
		status.DocumentsTotal, status.DocumentsCompleted,
		status.DocumentsSkipped, status.DocumentsFailed)
	if status.Downloaded > 0 || status.DownloadsFailed > 0 {
		cmd.Printf("  downloads: %d done, %d failed\n",
			status.Downloaded, status.DownloadsFailed)
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if importer == nil {
		return errors.New("importer not configured")
	}

	if err := importer.Cleanup(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("cleanup run %s: %w", args[0], err)
	}
	cmd.Printf("Run %s cleaned up.\n", args[0])
	return nil
}
