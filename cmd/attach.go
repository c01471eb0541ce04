package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/identity"
)

var attachHub string

var attachCmd = &cobra.Command{
	Use:   "attach [PLAYER_ID]",
	Short: "Attach this machine to a player",
	Long: `Attach this machine to a running player so commands sent from here
steer it.

The player id is checked against the player's hub. If it is malformed or
unknown you'll be asked to enter it again; nothing is ever created on the
player's side. The id and hub URL are saved to your config file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)

	attachCmd.Flags().StringVar(&attachHub, "hub", "", "Hub websocket URL, e.g. ws://studio.local:7420/ws (default from config)")
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if attachHub != "" {
		cfg.HubURL = attachHub
	}

	base, err := directoryURL(cfg.HubURL)
	if err != nil {
		return err
	}

	logger := setupLogger(logFile, logLevel)
	gate := identity.NewGate(identity.NewRemoteDirectory(base), logger)

	initial := cfg.AttachedID
	if len(args) > 0 {
		initial = args[0]
	}

	id, err := identity.Prompt(ctx, gate, os.Stdin, os.Stdout, initial)
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}

	cfg.AttachedID = id
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("✓ Attached to player %s via %s\n", id, cfg.HubURL)
	return nil
}

// directoryURL derives the player's HTTP base URL from its hub URL
func directoryURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub URL %q: %w", hubURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid hub URL %q: unsupported scheme", hubURL)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
