package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var resumeRunID string

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted export from its checkpoint",
	Long: `Resume continues a run that failed or was interrupted, starting from the
last saved state. Requires [pipeline] checkpoint_path in the config. The
run keeps its original time budget.`,
	Example: `  hubexport resume --run-id 6f1c2a9e-3b7d-4c1e-9a53-0d2f7e8b4c11 -c hubexport.toml`,
	RunE:    runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeRunID, "run-id", "", "Run to resume")
	_ = resumeCmd.MarkFlagRequired("run-id")
}

func runResume(cmd *cobra.Command, args []string) error {
	if cfg.Pipeline.CheckpointPath == "" {
		return errors.New("resume needs [pipeline] checkpoint_path")
	}

	ctx, cancel := notifyContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.orchestrator.Resume(ctx, resumeRunID)
	if res != nil {
		printResult(cmd.OutOrStdout(), res)
	}
	return err
}
