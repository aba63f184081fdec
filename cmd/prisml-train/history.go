package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"prisml-train/internal/storage"

	"github.com/spf13/cobra"
)

var (
	historyModel string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored training runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyModel, "model", "", "Only show runs of this model")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if settings.HistoryDB == "" {
		return errors.New("no history database configured; set --history-db or PRISML_HISTORY_DB")
	}
	// Opening creates the file; a missing history is reported rather than made.
	if _, err := os.Stat(settings.HistoryDB); err != nil {
		return fmt.Errorf("history database %s: %w", settings.HistoryDB, err)
	}

	store, err := storage.New(settings.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var runs []storage.Run
	if historyModel != "" {
		runs, err = store.GetRuns(historyModel, historyLimit)
	} else {
		runs, err = store.ListRuns(historyLimit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tMODEL\tALGORITHM\tOUTCOME\tSCORES\tDURATION\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			shortID(r.ID),
			r.ModelName,
			r.Algorithm,
			outcome(r),
			formatScores(r.Metrics),
			r.Duration().Round(time.Millisecond),
			r.Error)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func outcome(r storage.Run) string {
	if r.FailedStage != "" {
		return r.Outcome + " (" + r.FailedStage + ")"
	}
	return r.Outcome
}

func formatScores(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4f", name, m[name])
	}
	return strings.Join(parts, " ")
}
