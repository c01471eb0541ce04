package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/daemon"
)

var installListen string

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Run the player at login under launchd",
	Long: `Register 'carousel player' as a launchd agent for the current user.

The agent starts at login and is restarted if the player crashes. A
player that was stopped cleanly stays stopped until the next login or
'launchctl kickstart'. The saved player id is pinned in the agent so the
player never claims a new one.

Running install again replaces the existing agent.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().StringVar(&installListen, "listen", "", "Hub listen address to pin (default: config at player start)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if binary, err = filepath.EvalSymlinks(binary); err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	agent, err := daemon.NewAgent(binary, cfg.PlayerID, installListen)
	if err != nil {
		return err
	}
	plist, err := agent.Plist()
	if err != nil {
		return err
	}

	for _, dir := range []string{agent.Paths.LogDir, filepath.Dir(agent.Paths.Plist)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(agent.Paths.Plist); err == nil {
		fmt.Println("Replacing the installed player agent")
		_ = unloadAgent()
	}

	if err := os.WriteFile(agent.Paths.Plist, []byte(plist), 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}
	if err := loadAgent(agent.Paths.Plist); err != nil {
		return fmt.Errorf("failed to start player agent: %w", err)
	}

	id := cfg.PlayerID
	if id == "" {
		id = "(claimed on first start)"
	}
	fmt.Printf("✓ Player agent installed: %s\n", agent.Paths.Plist)
	fmt.Printf("  player id  %s\n", id)
	fmt.Printf("  log        %s\n", agent.Paths.Log)
	fmt.Println("\nControllers on other machines can now run 'carousel attach'.")
	return nil
}

// launchdDomain returns the gui/<uid> domain of the current user
func launchdDomain() string {
	return fmt.Sprintf("gui/%d", os.Getuid())
}

// loadAgent bootstraps the agent into the user's launchd domain
func loadAgent(plistPath string) error {
	output, err := exec.Command("launchctl", "bootstrap", launchdDomain(), plistPath).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("launchctl bootstrap failed: %s", msg)
		}
		return fmt.Errorf("failed to run launchctl bootstrap: %w", err)
	}
	return nil
}

// unloadAgent boots the agent out, which sends the player SIGTERM. An agent
// that is not loaded is reported as an error the caller may ignore.
func unloadAgent() error {
	output, err := exec.Command("launchctl", "bootout", launchdDomain()+"/"+daemon.Label).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("launchctl bootout failed: %s", msg)
		}
		return fmt.Errorf("failed to run launchctl bootout: %w", err)
	}
	return nil
}
