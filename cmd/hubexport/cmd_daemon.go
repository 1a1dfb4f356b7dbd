package main

import (
	"github.com/spf13/cobra"

	"github.com/yairfalse/hubexport/internal/daemon"
)

var daemonMetricsAddr string

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run configured export rules on their intervals",
	Long: `Run hubexport as a scheduler. Every enabled [[rules]] entry in the config
runs once at startup and then on its interval. Failed runs are logged and
retried on the next tick.

Serves /health and, with [otel.metrics] prometheus = true, /metrics.`,
	Example: `  hubexport daemon -c hubexport.toml
  hubexport daemon -c hubexport.toml --metrics-addr :9090`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics and health listen address (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	cfg.OTEL.Metrics.Prometheus = true

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	rules := cfg.EnabledRules()
	for i := range rules {
		rules[i].Trigger = withConfigDefaults(rules[i].Trigger)
	}

	d, err := daemon.NewDaemon(a.orchestrator, daemon.Config{
		Rules:          rules,
		MetricsAddr:    cfg.Daemon.MetricsAddr,
		MetricsHandler: a.telemetry.MetricsHandler(),
	})
	if err != nil {
		return err
	}

	return d.Start(ctx)
}
