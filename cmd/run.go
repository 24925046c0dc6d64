package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/swarmcal/internal/calib"
	"github.com/cwbudde/swarmcal/internal/config"
	"github.com/cwbudde/swarmcal/internal/server"
	"github.com/cwbudde/swarmcal/internal/store"
)

var (
	configPath  string
	workers     int
	generations int
	seed        int64
	listenAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a calibration",
	Long: `Runs a calibration described by a YAML run file. Results are written to
<output_dir>/runs/<run-id>/: history.csv, trace.jsonl, checkpoint.json and the
best/ snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		return launch(cmd, cfg, nil)
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Run file path (required)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent evaluations (overrides run.workers)")
	cmd.Flags().IntVar(&generations, "generations", 0, "Generation budget (overrides run.generations)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (overrides run.seed)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Serve run status on this address, e.g. :8080")
	cmd.MarkFlagRequired("config")
}

// loadRunConfig reads the run file and applies flags the user set explicitly.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Run.Workers = workers
	}
	if flags.Changed("generations") {
		cfg.Run.Generations = generations
	}
	if flags.Changed("seed") {
		cfg.Run.Seed = seed
	}
	if flags.Changed("listen") {
		cfg.Serve.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// launch runs one calibration to completion or until interrupted.
func launch(cmd *cobra.Command, cfg *config.Config, resume *store.Checkpoint) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := calib.Options{
		Config:     cfg,
		ConfigPath: configPath,
		RunID:      calib.NewRunID(),
		Resume:     resume,
	}

	if cfg.Serve.Listen != "" {
		srv := server.NewServer(cfg.Serve.Listen, nil)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Status server shutdown failed", "error", err)
			}
		}()

		srv.Runs().Register(opts.RunID, server.RunInfo{
			Name:        cfg.Run.Name,
			Strategy:    cfg.Run.Strategy,
			Parameters:  cfg.Space().Names(),
			Population:  cfg.Population(),
			Generations: cfg.Run.Generations,
			Workers:     cfg.Run.Workers,
		})
		opts.Observer = srv.Runs().Reporter(opts.RunID)
		fmt.Printf("Status: http://%s/api/v1/runs/%s\n", srv.Addr(), opts.RunID)
	}

	controller, err := calib.New(opts)
	if err != nil {
		return err
	}
	defer controller.Close()

	summary, err := controller.Run(ctx)
	if summary != nil {
		printSummary(summary, cfg.Space().Names())
	}
	if errors.Is(err, context.Canceled) && summary != nil {
		fmt.Print(interruptMessage(summary))
		return nil
	}
	return err
}

func printSummary(s *calib.Summary, names []string) {
	fmt.Printf("Run %s (%s) stopped: %s\n", s.RunID, s.Strategy, s.Stopped)
	fmt.Printf("  Generations: %d, trials: %d, elapsed: %s\n", s.Generations, s.Trials, s.Elapsed.Round(time.Millisecond))
	if s.Best.Found() {
		fmt.Printf("  Best error: %.6g (trial %d)\n", s.Best.Error, s.Best.Trial.Index)
		for i, v := range s.Best.Trial.Values {
			fmt.Printf("    %s = %.6g\n", names[i], v)
		}
	} else {
		fmt.Println("  No successful evaluation")
	}
	if s.Chain != nil {
		fmt.Printf("  Chain: %d steps x %d walkers, acceptance %.3f\n", s.Chain.Steps, s.Chain.Walkers, s.Chain.Acceptance)
	}
	fmt.Printf("  Output: %s\n", s.RunDir)
}

// interruptMessage tells the user how to continue an interrupted run. A
// checkpoint only exists once a best was found.
func interruptMessage(s *calib.Summary) string {
	if !s.Best.Found() {
		return "Interrupted before any successful evaluation; no checkpoint was written.\n"
	}
	return fmt.Sprintf("Interrupted; the last checkpoint can be resumed with:\n  swarmcal resume %s --config %s\n", s.RunID, configPath)
}
