package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/carousel/internal/config"
	"github.com/jfmyers9/carousel/internal/store"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show commands the local player processed",
	Long: `Show the most recent commands this machine's player processed, newest
first, with whether each was applied, rejected or ignored as expired.
Reads the player's database, so it only works where the player runs.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of commands to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.PlayerID == "" {
		return fmt.Errorf("no player has run on this machine")
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.RecentCommands(context.Background(), cfg.PlayerID, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No commands processed yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESSED\tTYPE\tORIGIN\tSTATUS\tDETAIL")
	for _, rec := range records {
		detail := rec.Message
		if rec.Code != "" {
			detail = fmt.Sprintf("%s: %s", rec.Code, rec.Message)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ProcessedAt.Local().Format(time.DateTime), rec.Type, rec.Origin, rec.Status, detail)
	}
	return w.Flush()
}
