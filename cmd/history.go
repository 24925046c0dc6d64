package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/swarmcal/internal/fit"
	"github.com/cwbudde/swarmcal/internal/store"
	"github.com/cwbudde/swarmcal/internal/track"
)

var (
	historyDataDir string
	historyTop     int
	historyTrace   bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show the trial history of a run",
	Long: `Prints the best trial of a finished or running calibration and its trial
history, optionally restricted to the N lowest-error trials. With --trace it
prints the per-generation trace instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDataDir, "data-dir", "out", "Output directory of the runs")
	historyCmd.Flags().IntVar(&historyTop, "top", 0, "Only show the N best trials (0 = all, in trial order)")
	historyCmd.Flags().BoolVar(&historyTrace, "trace", false, "Show per-generation best and batch statistics")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	fsStore, err := store.NewFSStore(historyDataDir)
	if err != nil {
		return fmt.Errorf("failed to open output directory: %w", err)
	}
	runDir := fsStore.RunDir(args[0])

	if historyTrace {
		return printTrace(runDir, args[0])
	}

	records, err := store.ReadHistory(filepath.Join(runDir, store.HistoryFile))
	if err != nil {
		return fmt.Errorf("failed to read history of run %s: %w", args[0], err)
	}

	if best, err := readBestInfo(runDir); err == nil {
		fmt.Printf("Best trial %d (generation %d): error %.6g\n", best.Trial, best.Generation, best.Error)
		names := make([]string, 0, len(best.Values))
		for name := range best.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s = %.6g\n", name, best.Values[name])
		}
		fmt.Println()
	}

	shown := selectTrials(records, historyTop)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tGEN\tSLOT\tERROR\tPARAMETERS")
	for _, rec := range shown {
		errStr := "failed"
		if rec.Result.OK() {
			errStr = fmt.Sprintf("%.6g", rec.Error())
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", rec.Index, rec.Generation, rec.Slot, errStr, formatVector(rec.X))
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d trials\n", len(shown), len(records))
	return nil
}

func printTrace(runDir, runID string) error {
	reader, err := store.NewTraceReader(runDir)
	if err != nil {
		return fmt.Errorf("failed to open trace of run %s: %w", runID, err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read trace of run %s: %w", runID, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GEN\tBEST\tBATCH BEST\tBATCH\tFAILED\tELAPSED")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
			e.Generation, formatOptional(e.BestError), formatOptional(e.BatchBest),
			e.BatchSize, e.Failed, e.Elapsed.Round(time.Millisecond))
	}
	w.Flush()

	fmt.Printf("\n%d generation(s)\n", len(entries))
	return nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.6g", *v)
}

// selectTrials returns the top lowest-error trials, or all of them in trial
// order when top is not positive. Failed trials sort last.
func selectTrials(records []fit.TrialRecord, top int) []fit.TrialRecord {
	if top <= 0 {
		return records
	}
	sorted := make([]fit.TrialRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Error() < sorted[j].Error()
	})
	if top < len(sorted) {
		sorted = sorted[:top]
	}
	return sorted
}

func readBestInfo(runDir string) (*track.BestInfo, error) {
	data, err := os.ReadFile(filepath.Join(runDir, store.BestDir, store.BestInfoFile))
	if err != nil {
		return nil, err
	}
	var info track.BestInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func formatVector(x fit.Vector) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	return strings.Join(parts, " ")
}
