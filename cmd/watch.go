package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/controller"
)

var watchLimit int

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream the attached player's queue",
	Long: `Print the attached player's queue every time it changes, until
interrupted. The first line is the item playing, followed by priority
requests and then the active queue.

Only one watch may run per machine unless capabilities.multi_window is
enabled.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntVarP(&watchLimit, "limit", "n", 10, "Number of queued items to show (0=all)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	release, err := controller.OpenWindow(config.GetConfigDir(), cfg.Capabilities)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, setupLogger(logFile, logLevel))
	if err != nil {
		return err
	}
	defer s.Close()

	s.view.OnChange(func(f controller.Frame) {
		renderFrame(os.Stdout, f, watchLimit)
	})

	if _, err := s.WaitSnapshot(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// renderFrame prints one frame of the queue
func renderFrame(w io.Writer, f controller.Frame, limit int) {
	var b strings.Builder

	status := "stopped"
	switch {
	case !f.Connected:
		status = "disconnected"
	case f.Snapshot.Transitioning:
		status = "crossfading"
	case f.Snapshot.Playing:
		status = "playing"
	case f.Snapshot.State.NowPlaying != nil:
		status = "paused"
	}
	fmt.Fprintf(&b, "── %s · %s · vol %d · v%d\n", f.Snapshot.PlayerID, status, f.Snapshot.Volume, f.Snapshot.Version)

	queued := f.Queue
	if np, ok := f.NowPlaying(); ok {
		fmt.Fprintf(&b, "▶ %s\n", padToWidth(np.String(), 60))
		queued = queued[1:]
	}

	priority := len(f.Snapshot.State.Priority)
	for i, item := range queued {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "  … %d more\n", len(queued)-limit)
			break
		}
		marker := " "
		if i < priority {
			marker = "!"
		}
		fmt.Fprintf(&b, "%s %2d %s %s\n", marker, i+1, padToWidth(item.String(), 48), item.ID)
	}

	fmt.Fprint(w, b.String())
}
