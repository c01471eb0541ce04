package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/controller"
)

const ellipsis = "..."

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display what the attached player is playing",
	Long: `Display the item the attached player is playing, from its latest state.

The output format can be customized in ~/.config/carousel/config.yaml
using a Go template. Available fields: .Title, .Artist, .Locator,
.Duration, .Position, .Volume, .Player, .Queued

Exit codes:
  0 - An item is playing
  1 - Nothing playing, paused, or player unreachable`,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled)")
}

// nowData is what the output template sees
type nowData struct {
	Title    string
	Artist   string
	Locator  string
	Duration time.Duration
	Position time.Duration
	Volume   int
	Player   string
	Queued   int // items after the current one
}

func runNow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+snapshotTimeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if formatFlag, _ := cmd.Flags().GetString("format"); formatFlag != "" {
		cfg.OutputFormat = formatFlag
	}

	s, err := openSession(ctx, cfg, setupLogger(logFile, logLevel))
	if err != nil {
		return err
	}
	defer s.Close()

	frame, err := s.WaitSnapshot(ctx)
	if err != nil {
		return err
	}

	data, ok := nowPlaying(frame)
	if !ok || !frame.Snapshot.Playing {
		os.Exit(1)
		return nil
	}

	output, err := formatNow(data, cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	width, _ := cmd.Flags().GetInt("width")
	fmt.Println(padToWidth(output, width))
	return nil
}

// nowPlaying extracts template data from a frame
func nowPlaying(f controller.Frame) (nowData, bool) {
	item, ok := f.NowPlaying()
	if !ok {
		return nowData{}, false
	}
	return nowData{
		Title:    item.Title,
		Artist:   item.Artist,
		Locator:  item.Locator,
		Duration: item.Duration,
		Position: f.Snapshot.Position + time.Since(f.Snapshot.PublishedAt),
		Volume:   f.Snapshot.Volume,
		Player:   f.Snapshot.PlayerID,
		Queued:   len(f.Queue) - 1,
	}, true
}

// formatNow applies the template to the now-playing data
func formatNow(data nowData, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// padToWidth pads or truncates text to a fixed display width, measured in
// display columns. Text that is too long ends in "...". width <= 0
// disables padding.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}
	if width < runewidth.StringWidth(ellipsis) && runewidth.StringWidth(text) > width {
		return runewidth.Truncate(ellipsis, width, "")
	}
	return runewidth.FillRight(runewidth.Truncate(text, width, ellipsis), width)
}
