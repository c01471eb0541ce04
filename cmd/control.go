package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/command"
	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/queue"
)

// skipCmd represents the skip command
var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip to the next item",
	Long: `Skip the item that is playing. Priority requests play first, otherwise
the active queue rotates. Waits for the player to confirm unless --wait=false.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) { return command.Skip{}, nil })
	},
}

// pauseCmd represents the pause command
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause playback",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) { return command.Pause{}, nil })
	},
}

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume playback",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) { return command.Resume{}, nil })
	},
}

// volumeCmd represents the volume command
var volumeCmd = &cobra.Command{
	Use:   "volume LEVEL",
	Short: "Set playback volume (0-100)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			level, err := strconv.Atoi(args[0])
			if err != nil || level < 0 || level > 100 {
				return nil, fmt.Errorf("invalid volume level: %s (must be a number 0-100)", args[0])
			}
			return command.SetVolume{Level: level}, nil
		})
	},
}

// seekCmd represents the seek command
var seekCmd = &cobra.Command{
	Use:   "seek POSITION",
	Short: "Seek within the current item, e.g. 1m30s",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			pos, err := time.ParseDuration(args[0])
			if err != nil || pos < 0 {
				return nil, fmt.Errorf("invalid position: %s (e.g. 90s or 1m30s)", args[0])
			}
			return command.SeekTo{Position: pos}, nil
		})
	},
}

var (
	addID       string
	addTitle    string
	addArtist   string
	addDuration time.Duration
	addPriority bool
	addPosition int
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add LOCATOR",
	Short: "Add an item to the queue",
	Long: `Add a file path or URL to the active queue, or with --priority request it
to play next. Priority requests play once and are not recycled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			p := command.QueueAdd{
				Target: command.TargetActive,
				Item:   newItem(args[0]),
			}
			if addPriority {
				p.Target = command.TargetPriority
			}
			if cmd.Flags().Changed("position") {
				if addPriority {
					return nil, errors.New("--position only applies to the active queue")
				}
				p.Position = &addPosition
			}
			return p, nil
		})
	},
}

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an item from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			return command.QueueRemove{Target: targetFlag(cmd), ID: args[0]}, nil
		})
	},
}

// moveCmd represents the move command
var moveCmd = &cobra.Command{
	Use:   "move ID INDEX",
	Short: "Move an item to a new position in its queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, fmt.Errorf("invalid index: %s", args[1])
			}
			return command.QueueMove{Target: targetFlag(cmd), ID: args[0], To: to}, nil
		})
	},
}

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear [active|priority|all]",
	Short: "Empty a queue (default: both)",
	Long:  `Empty the active queue, the priority queue, or both. The item playing is not interrupted.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			target := command.TargetAll
			if len(args) > 0 {
				target = command.Target(strings.ToLower(args[0]))
			}
			switch target {
			case command.TargetActive, command.TargetPriority, command.TargetAll:
				return command.QueueClear{Target: target}, nil
			default:
				return nil, fmt.Errorf("invalid queue: %s (must be 'active', 'priority' or 'all')", args[0])
			}
		})
	},
}

var shuffleKeepFirst bool

// shuffleCmd represents the shuffle command
var shuffleCmd = &cobra.Command{
	Use:   "shuffle",
	Short: "Shuffle the active queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			return command.QueueShuffle{KeepFirst: shuffleKeepFirst}, nil
		})
	},
}

var loadShuffle bool

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load PLAYLIST",
	Short: "Replace the active queue with a playlist",
	Long: `Replace the active queue with a playlist from the player's playlist
directory. The item playing finishes first. Without --shuffle the playlist
file's setting, then the player's default, decides whether it is shuffled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, func() (command.Payload, error) {
			p := command.LoadPlaylist{Name: args[0]}
			if cmd.Flags().Changed("shuffle") {
				p.Shuffle = &loadShuffle
			}
			return p, nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{skipCmd, pauseCmd, resumeCmd, volumeCmd, seekCmd, addCmd, removeCmd, moveCmd, clearCmd, shuffleCmd, loadCmd} {
		c.Flags().Bool("wait", c == skipCmd, "Wait for the player to apply the command")
		rootCmd.AddCommand(c)
	}

	addCmd.Flags().StringVar(&addID, "id", "", "Item id (default: generated)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "Item title (default: file name)")
	addCmd.Flags().StringVar(&addArtist, "artist", "", "Item artist")
	addCmd.Flags().DurationVar(&addDuration, "duration", 0, "Item length if known")
	addCmd.Flags().BoolVarP(&addPriority, "priority", "p", false, "Request the item to play next")
	addCmd.Flags().IntVar(&addPosition, "position", 0, "Insert at this index of the active queue")

	removeCmd.Flags().BoolP("priority", "p", false, "Act on the priority queue")
	moveCmd.Flags().BoolP("priority", "p", false, "Act on the priority queue")

	shuffleCmd.Flags().BoolVar(&shuffleKeepFirst, "keep-first", false, "Keep the next item in place")
	loadCmd.Flags().BoolVar(&loadShuffle, "shuffle", false, "Shuffle the playlist (overrides the playlist file)")
}

// sendCommand connects to the attached player and sends the payload built
// by factory, waiting for acknowledgement when --wait is set
func sendCommand(cmd *cobra.Command, factory func() (command.Payload, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	wait, _ := cmd.Flags().GetBool("wait")

	// build first so usage errors don't need a connection
	p, err := factory()
	if err != nil {
		return err
	}

	timeout := connectTimeout
	if wait {
		timeout += cfg.Commands.AckTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := openSession(ctx, cfg, setupLogger(logFile, logLevel))
	if err != nil {
		return err
	}
	defer s.Close()

	if !wait {
		sent, err := s.commander.Send(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to send %s: %w", p.Type(), err)
		}
		fmt.Printf("Sent %s (%s)\n", p.Type(), sent.ID)
		return nil
	}

	_, err = s.commander.SendBlocking(ctx, func() (command.Payload, error) { return p, nil })
	var rej *command.RejectedError
	switch {
	case err == nil:
		fmt.Printf("✓ %s applied\n", p.Type())
		return nil
	case errors.As(err, &rej):
		return fmt.Errorf("player rejected %s: %s", p.Type(), rej.Message)
	case errors.Is(err, command.ErrTimeout):
		return fmt.Errorf("%s sent but not acknowledged, the player may still apply it", p.Type())
	default:
		return fmt.Errorf("failed to send %s: %w", p.Type(), err)
	}
}

func targetFlag(cmd *cobra.Command) command.Target {
	if priority, _ := cmd.Flags().GetBool("priority"); priority {
		return command.TargetPriority
	}
	return command.TargetActive
}

func newItem(locator string) queue.Item {
	item := queue.Item{
		ID:       addID,
		Title:    addTitle,
		Artist:   addArtist,
		Locator:  locator,
		Duration: addDuration,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Title == "" {
		base := filepath.Base(locator)
		item.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return item
}
