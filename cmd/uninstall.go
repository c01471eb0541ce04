package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/daemon"
)

var uninstallPurge bool

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop the player agent and remove it from launchd",
	Long: `Stop the launchd player agent and remove its plist.

The player saves its queue on shutdown, so a later 'carousel install' or
'carousel player' resumes where it left off. With --purge the player
database and logs are removed as well; the next start claims its id
again and begins with an empty queue.`,
	Args: cobra.NoArgs,
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)

	uninstallCmd.Flags().BoolVar(&uninstallPurge, "purge", false, "Also remove the player database and logs")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}
	paths := daemon.DefaultAgentPaths(home)

	if _, err := os.Stat(paths.Plist); errors.Is(err, os.ErrNotExist) {
		fmt.Println("Player agent is not installed")
	} else {
		if err := unloadAgent(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		if err := os.Remove(paths.Plist); err != nil {
			return fmt.Errorf("failed to remove plist: %w", err)
		}
		fmt.Printf("✓ Player agent removed: %s\n", paths.Plist)
	}

	if !uninstallPurge {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db := cfg.DatabasePath()
	for _, path := range []string{db, db + "-wal", db + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	if err := os.RemoveAll(paths.LogDir); err != nil {
		return fmt.Errorf("failed to remove logs: %w", err)
	}
	fmt.Printf("✓ Removed player database %s and logs\n", db)
	return nil
}
