package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/hubexport/internal/checkpoint"
	"github.com/yairfalse/hubexport/orchestrator"
)

// checkpointsCmd represents the checkpoints command
var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List runs that can be resumed",
	RunE:  runCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	if cfg.Pipeline.CheckpointPath == "" {
		return errors.New("no [pipeline] checkpoint_path configured")
	}

	cp, err := checkpoint.Open(cfg.Pipeline.CheckpointPath)
	if err != nil {
		return err
	}
	defer func() { _ = cp.Close() }()

	entries, err := cp.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tNAMESPACE\tSTATE\tPAGES\tUPDATED\tLAST ERROR")
	for _, e := range entries {
		var st orchestrator.RunState
		if err := e.Decode(&st); err != nil {
			fmt.Fprintf(w, "%s\t-\tunreadable\t-\t%s\t%v\n", e.RunID, humanize.Time(e.UpdatedAt), err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			st.RunID, st.Namespace, st.State, st.Page, humanize.Time(e.UpdatedAt), st.LastError)
	}
	return w.Flush()
}
