package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// PlayerID is the id this machine's player claimed. Empty until the
	// first `carousel player` run.
	PlayerID string

	// AttachedID is the player controllers on this machine steer
	AttachedID string

	// Origin names this machine in commands it sends
	Origin string

	// Listen is the player's hub address; HubURL is where controllers reach it
	Listen string
	HubURL string

	// DataDir holds the player's SQLite database
	DataDir string

	// PlaylistDir holds <name>.yaml playlists; DefaultPlaylist is loaded on start
	PlaylistDir     string
	DefaultPlaylist string

	// Output format template for the now command
	// Default: "{{.Artist}} - {{.Title}}"
	OutputFormat string

	// Debounce is the snapshot coalescing window for controllers
	Debounce time.Duration

	// Heartbeat is how often the player republishes its latest snapshot
	Heartbeat time.Duration

	Playback     PlaybackConfig
	Commands     CommandConfig
	Capabilities Capabilities
}

// PlaybackConfig holds renderer settings
type PlaybackConfig struct {
	Renderer        string   // "clock" or "exec"
	Command         []string // exec renderer command, {} is the locator
	VolumeCommand   []string // exec renderer volume command, {} is the level
	DefaultVolume   int
	Crossfade       time.Duration
	DefaultDuration time.Duration // clock renderer length for items of unknown length
	ShuffleOnLoad   bool
}

// CommandConfig holds command channel settings
type CommandConfig struct {
	AckTimeout  time.Duration
	MaxAttempts int
	MaxAge      time.Duration // older commands are ignored by the player
}

// Capabilities declares what the host environment allows. It is decided
// once at startup and handed to the components that care.
type Capabilities struct {
	// LocalFiles allows reading media files for tags and durations
	LocalFiles bool

	// MultiWindow allows more than one controller view at a time
	MultiWindow bool
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config file locations (in order of precedence)
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	hostname, _ := os.Hostname()

	// Set defaults
	v.SetDefault("origin", hostname)
	v.SetDefault("listen", "127.0.0.1:7420")
	v.SetDefault("hub_url", "ws://127.0.0.1:7420/ws")
	v.SetDefault("data_dir", configDir)
	v.SetDefault("playlist_dir", filepath.Join(configDir, "playlists"))
	v.SetDefault("output_format", "{{.Artist}} - {{.Title}}")
	v.SetDefault("debounce", "150ms")
	v.SetDefault("heartbeat", "10s")
	v.SetDefault("playback.renderer", "clock")
	v.SetDefault("playback.command", []string{"afplay", "{}"})
	v.SetDefault("playback.volume_command", []string{"osascript", "-e", "set volume output volume {}"})
	v.SetDefault("playback.default_volume", 80)
	v.SetDefault("playback.crossfade", "5s")
	v.SetDefault("playback.default_duration", "3m")
	v.SetDefault("playback.shuffle_on_load", true)
	v.SetDefault("commands.ack_timeout", "5s")
	v.SetDefault("commands.max_attempts", 3)
	v.SetDefault("commands.max_age", "30s")
	v.SetDefault("capabilities.local_files", true)
	v.SetDefault("capabilities.multi_window", false)

	// Read config file (optional - don't fail if missing)
	_ = v.ReadInConfig()

	// Read from environment variables, e.g. CAROUSEL_PLAYBACK_RENDERER
	v.SetEnvPrefix("CAROUSEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map config to struct
	cfg := &Config{
		PlayerID:        v.GetString("player_id"),
		AttachedID:      v.GetString("attached_id"),
		Origin:          v.GetString("origin"),
		Listen:          v.GetString("listen"),
		HubURL:          v.GetString("hub_url"),
		DataDir:         v.GetString("data_dir"),
		PlaylistDir:     v.GetString("playlist_dir"),
		DefaultPlaylist: v.GetString("default_playlist"),
		OutputFormat:    v.GetString("output_format"),
		Debounce:        v.GetDuration("debounce"),
		Heartbeat:       v.GetDuration("heartbeat"),
		Playback: PlaybackConfig{
			Renderer:        v.GetString("playback.renderer"),
			Command:         v.GetStringSlice("playback.command"),
			VolumeCommand:   v.GetStringSlice("playback.volume_command"),
			DefaultVolume:   v.GetInt("playback.default_volume"),
			Crossfade:       v.GetDuration("playback.crossfade"),
			DefaultDuration: v.GetDuration("playback.default_duration"),
			ShuffleOnLoad:   v.GetBool("playback.shuffle_on_load"),
		},
		Commands: CommandConfig{
			AckTimeout:  v.GetDuration("commands.ack_timeout"),
			MaxAttempts: v.GetInt("commands.max_attempts"),
			MaxAge:      v.GetDuration("commands.max_age"),
		},
		Capabilities: Capabilities{
			LocalFiles:  v.GetBool("capabilities.local_files"),
			MultiWindow: v.GetBool("capabilities.multi_window"),
		},
	}

	return cfg, nil
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "carousel")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

// DatabasePath returns the player's SQLite file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "carousel.db")
}

// Save writes configuration to file
func (c *Config) Save() error {
	v := viper.New()

	// Set config file path
	configDir := getConfigDir()
	configFile := filepath.Join(configDir, "config.yaml")

	// Set values in viper
	v.Set("player_id", c.PlayerID)
	v.Set("attached_id", c.AttachedID)
	v.Set("origin", c.Origin)
	v.Set("listen", c.Listen)
	v.Set("hub_url", c.HubURL)
	v.Set("data_dir", c.DataDir)
	v.Set("playlist_dir", c.PlaylistDir)
	v.Set("default_playlist", c.DefaultPlaylist)
	v.Set("output_format", c.OutputFormat)
	v.Set("debounce", c.Debounce.String())
	v.Set("heartbeat", c.Heartbeat.String())
	v.Set("playback.renderer", c.Playback.Renderer)
	v.Set("playback.command", c.Playback.Command)
	v.Set("playback.volume_command", c.Playback.VolumeCommand)
	v.Set("playback.default_volume", c.Playback.DefaultVolume)
	v.Set("playback.crossfade", c.Playback.Crossfade.String())
	v.Set("playback.default_duration", c.Playback.DefaultDuration.String())
	v.Set("playback.shuffle_on_load", c.Playback.ShuffleOnLoad)
	v.Set("commands.ack_timeout", c.Commands.AckTimeout.String())
	v.Set("commands.max_attempts", c.Commands.MaxAttempts)
	v.Set("commands.max_age", c.Commands.MaxAge.String())
	v.Set("capabilities.local_files", c.Capabilities.LocalFiles)
	v.Set("capabilities.multi_window", c.Capabilities.MultiWindow)

	// Write to file
	return v.WriteConfigAs(configFile)
}
