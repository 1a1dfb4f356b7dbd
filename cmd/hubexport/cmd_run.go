package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/hubexport/orchestrator"
)

var (
	runTriggerPath string
	runDryRun      bool
	runFlags       triggerFlags
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one findings export",
	Long: `Run one export: fetch every page of Security Hub findings, keep those
matching the filters, aggregate them into a CSV report and email it.

The trigger can come from a YAML or JSON file, from flags, or both. Flags
override values from the file.`,
	Example: `  hubexport run --trigger trigger.yaml
  hubexport run --bucket reports --sender sec@example.com --recipient a@example.com --severity CRITICAL,HIGH
  hubexport run --trigger trigger.json --dry-run`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTriggerPath, "trigger", "t", "", "Trigger payload file (.yaml or .json)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Keep objects in memory and log emails instead of sending")
	runFlags.register(runCmd.Flags())
}

func runExport(cmd *cobra.Command, args []string) error {
	var t orchestrator.Trigger
	if runTriggerPath != "" {
		var err error
		if t, err = loadTrigger(runTriggerPath); err != nil {
			return err
		}
	}
	t = runFlags.apply(cmd.Flags(), t)
	t = withConfigDefaults(t)

	ctx, cancel := notifyContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, runDryRun)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.orchestrator.Run(ctx, t)
	if res != nil {
		printResult(cmd.OutOrStdout(), res)
	}
	return err
}

// withConfigDefaults fills trigger fields the config provides defaults for.
func withConfigDefaults(t orchestrator.Trigger) orchestrator.Trigger {
	if t.MaxResults == nil {
		n := cfg.Pipeline.MaxResults
		t.MaxResults = &n
	}
	return t
}

func printResult(w io.Writer, res *orchestrator.RunResult) {
	fmt.Fprintf(w, "Run:        %s (%s)\n", res.RunID, res.State)
	fmt.Fprintf(w, "Namespace:  %s\n", res.Namespace)
	fmt.Fprintf(w, "Pages:      %d (%d findings fetched)\n", res.Pages, res.Fetched)
	if res.ArtifactKey != "" {
		fmt.Fprintf(w, "Report:     %s (%d rows, %s)\n", res.ArtifactKey, res.Rows, humanize.IBytes(uint64(res.ArtifactSize)))
	}
	if res.MessageID != "" {
		fmt.Fprintf(w, "Delivered:  %s, message %s\n", res.Mode, res.MessageID)
	}
	fmt.Fprintf(w, "Duration:   %s\n", res.Duration.Round(1e6))
}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
