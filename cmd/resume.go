package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/swarmcal/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Start a new run seeded from a checkpoint",
	Long: `Loads the checkpoint of an earlier run from the configured output directory
and starts a new run whose initial population contains the checkpoint's best
parameters. The run file must use the same strategy and parameter names.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}

		checkpointStore, err := store.NewFSStore(cfg.Run.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpoint, err := checkpointStore.LoadCheckpoint(args[0])
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}

		fmt.Printf("Resuming from run %s (generation %d, best error %.6g)\n",
			checkpoint.RunID, checkpoint.Generation, checkpoint.BestError)
		return launch(cmd, cfg, checkpoint)
	},
}

func init() {
	addRunFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}
