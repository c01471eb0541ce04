package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/catalog"
	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/daemon"
	"github.com/jfmyers9/carousel/internal/identity"
	"github.com/jfmyers9/carousel/internal/playback"
	"github.com/jfmyers9/carousel/internal/player"
	"github.com/jfmyers9/carousel/internal/pubsub"
	"github.com/jfmyers9/carousel/internal/queue"
	"github.com/jfmyers9/carousel/internal/store"
)

const (
	catalogWaitInterval = time.Second
	catalogWaitMax      = 30 * time.Second
	watchDebounce       = 500 * time.Millisecond
	shutdownTimeout     = 5 * time.Second
)

var (
	playerID       string
	playerListen   string
	playerDataDir  string
	playerPlaylist string
	playerRenderer string
)

// playerCmd represents the player command
var playerCmd = &cobra.Command{
	Use:   "player",
	Short: "Run the authoritative player",
	Long: `Run the authoritative player and the hub controllers connect to.

The player will:
- Claim a player id on first run and save it to the config file
- Restore the queue and state version from its database
- Load the default playlist when the queue is empty
- Rotate through the queue, playing priority requests first
- Apply commands from controllers and acknowledge each one
- Reload the loaded playlist when its file changes
- Handle graceful shutdown on SIGINT/SIGTERM

The player runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file (useful for launchd).`,
	RunE: runPlayer,
}

func init() {
	rootCmd.AddCommand(playerCmd)

	playerCmd.Flags().StringVar(&playerID, "id", "", "Player id to claim (default: saved or generated)")
	playerCmd.Flags().StringVar(&playerListen, "listen", "", "Hub listen address (default from config)")
	playerCmd.Flags().StringVar(&playerDataDir, "data-dir", "", "Data directory for the player database (default from config)")
	playerCmd.Flags().StringVar(&playerPlaylist, "playlist", "", "Playlist to load when the queue is empty")
	playerCmd.Flags().StringVar(&playerRenderer, "renderer", "", "Renderer: clock or exec (default from config)")
}

func runPlayer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyPlayerFlags(cfg)

	logger := setupLogger(logFile, logLevel)
	logger.Info().Str("version", version).Msg("Starting carousel player")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	logger.Info().Str("data_dir", cfg.DataDir).Msg("Using data directory")

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	id, err := identity.NewGate(st, logger).Claim(ctx, cfg.PlayerID)
	if err != nil {
		return err
	}
	if id != cfg.PlayerID {
		cfg.PlayerID = id
		if err := cfg.Save(); err != nil {
			logger.Warn().Err(err).Msg("Failed to save player id")
		}
	}
	logger = logger.With().Str("player", id).Logger()
	logger.Info().Msg("Player id ready")

	renderer, err := newRenderer(cfg, logger)
	if err != nil {
		return err
	}
	defer renderer.Close()

	bus := pubsub.NewBus(pubsub.WithRetain(pubsub.IsStateTopic))
	defer bus.Close()
	hub := pubsub.NewHub(bus, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/players/", identity.Handler(st))
	server := &http.Server{Addr: cfg.Listen, Handler: mux}

	cat := catalog.New(cfg.PlaylistDir, cfg.Capabilities, logger)

	p := player.New(player.Config{
		PlayerID:         id,
		CommandMaxAge:    cfg.Commands.MaxAge,
		Heartbeat:        cfg.Heartbeat,
		CleanupInterval:  time.Hour,
		CommandRetention: 7 * 24 * time.Hour,
		DefaultVolume:    cfg.Playback.DefaultVolume,
		ShuffleOnLoad:    cfg.Playback.ShuffleOnLoad,
		DefaultPlaylist:  cfg.DefaultPlaylist,
	}, queue.NewEngine(), renderer, cat, st, bus, logger)

	d := daemon.New(logger)
	d.Go("hub", func(ctx context.Context) error {
		return serveHub(ctx, server, hub, logger)
	})
	d.Go("player", p.Run)
	d.Go("catalog", func(ctx context.Context) error {
		return watchCatalog(ctx, cat, p, logger)
	})

	return d.Run(ctx)
}

func applyPlayerFlags(cfg *config.Config) {
	if playerID != "" {
		cfg.PlayerID = playerID
	}
	if playerListen != "" {
		cfg.Listen = playerListen
	}
	if playerDataDir != "" {
		cfg.DataDir = playerDataDir
	}
	if playerPlaylist != "" {
		cfg.DefaultPlaylist = playerPlaylist
	}
	if playerRenderer != "" {
		cfg.Playback.Renderer = playerRenderer
	}
}

func newRenderer(cfg *config.Config, logger zerolog.Logger) (playback.Renderer, error) {
	switch cfg.Playback.Renderer {
	case "", "clock":
		return playback.NewClock(cfg.Playback.Crossfade, cfg.Playback.DefaultDuration), nil
	case "exec":
		return playback.NewExec(cfg.Playback.Command, cfg.Playback.VolumeCommand, logger)
	default:
		return nil, fmt.Errorf("unknown renderer %q (want clock or exec)", cfg.Playback.Renderer)
	}
}

func serveHub(ctx context.Context, server *http.Server, hub *pubsub.Hub, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Hub listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("hub stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down hub: %w", err)
	}
	return nil
}

// watchCatalog waits for the playlist directory and forwards playlist edits
// to the player. A missing directory only disables reloads.
func watchCatalog(ctx context.Context, cat *catalog.Catalog, p *player.Player, logger zerolog.Logger) error {
	if err := catalog.WaitReady(ctx, cat.Dir(), catalogWaitInterval, catalogWaitMax); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Err(err).Str("dir", cat.Dir()).Msg("Playlist directory unavailable, reloads disabled")
		return nil
	}
	return cat.Watch(ctx, watchDebounce, p.PlaylistChanged)
}
