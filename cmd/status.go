package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/swarmcal/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query the status server of a running calibration",
	Long: `Queries a status server started with "run --listen".
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listRuns(fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	runID := args[0]
	return getRunStatus(fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, runID), runID)
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listRuns(url string) error {
	var runs []server.Run
	if _, err := getJSON(url, &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(runs))
	for _, run := range runs {
		fmt.Printf("Run ID: %s\n", run.ID)
		fmt.Printf("  State: %s\n", run.State)
		fmt.Printf("  Strategy: %s\n", run.Info.Strategy)
		fmt.Printf("  Generation: %d/%d\n", run.Generation, run.Info.Generations)
		if run.BestError != nil {
			fmt.Printf("  Best error: %.6g\n", *run.BestError)
		}
		fmt.Println()
	}
	return nil
}

func getRunStatus(url, runID string) error {
	var status server.StatusResponse
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	fmt.Println()

	fmt.Println("Configuration:")
	if status.Info.Name != "" {
		fmt.Printf("  Name: %s\n", status.Info.Name)
	}
	fmt.Printf("  Strategy: %s\n", status.Info.Strategy)
	fmt.Printf("  Parameters: %v\n", status.Info.Parameters)
	fmt.Printf("  Population: %d\n", status.Info.Population)
	fmt.Printf("  Generations: %d\n", status.Info.Generations)
	fmt.Printf("  Workers: %d\n", status.Info.Workers)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Generation: %d\n", status.Generation)
	fmt.Printf("  Trials: %d (%d failed)\n", status.Trials, status.Failed)
	if status.BestError != nil {
		fmt.Printf("  Best error: %.6g (trial %d)\n", *status.BestError, status.BestTrial)
		for _, name := range status.Info.Parameters {
			if v, ok := status.BestValues[name]; ok {
				fmt.Printf("    %s = %.6g\n", name, v)
			}
		}
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.TrialsPerSecond > 0 {
		fmt.Printf("  Throughput: %.2f trials/sec\n", status.TrialsPerSecond)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}
	return nil
}
