// Package daemon runs configured export rules on their intervals.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/hubexport/internal/config"
	"github.com/yairfalse/hubexport/orchestrator"
)

// Runner executes one export.
type Runner interface {
	Run(ctx context.Context, t orchestrator.Trigger) (*orchestrator.RunResult, error)
}

// Config holds daemon configuration
type Config struct {
	Rules          []config.Rule
	MetricsAddr    string
	MetricsHandler http.Handler // served at /metrics when set
}

// Daemon schedules export rules
type Daemon struct {
	runner         Runner
	rules          []config.Rule
	metricsAddr    string
	metricsHandler http.Handler
	metrics        *DaemonMetrics
	startTime      time.Time
	runCount       atomic.Int64
	failCount      atomic.Int64
}

// NewDaemon creates a new daemon instance
func NewDaemon(runner Runner, cfg Config) (*Daemon, error) {
	if len(cfg.Rules) == 0 {
		return nil, errors.New("no enabled rules to schedule")
	}
	for _, r := range cfg.Rules {
		if r.Interval <= 0 {
			return nil, fmt.Errorf("rule %q: interval must be positive", r.Name)
		}
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}

	return &Daemon{
		runner:         runner,
		rules:          cfg.Rules,
		metricsAddr:    cfg.MetricsAddr,
		metricsHandler: cfg.MetricsHandler,
		metrics:        metrics,
		startTime:      time.Now(),
	}, nil
}

// Start runs every rule until ctx is cancelled or the process is signalled.
func (d *Daemon) Start(ctx context.Context) error {
	var g run.Group

	ctx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	for _, rule := range d.rules {
		ruleCtx, ruleCancel := context.WithCancel(ctx)
		g.Add(func() error {
			d.schedule(ruleCtx, rule)
			return nil
		}, func(error) {
			ruleCancel()
		})
	}

	if d.metricsAddr != "" {
		ln, err := net.Listen("tcp", d.metricsAddr)
		if err != nil {
			cancel()
			return fmt.Errorf("listen on %s: %w", d.metricsAddr, err)
		}
		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Add(func() error {
			log.Ctx(ctx).Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	log.Ctx(ctx).Info().Int("rules", len(d.rules)).Msg("daemon started")

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Ctx(ctx).Info().Str("signal", sig.Signal.String()).Msg("daemon stopping")
		return nil
	}
	return err
}

// schedule runs rule immediately and then on every tick.
func (d *Daemon) schedule(ctx context.Context, rule config.Rule) {
	ticker := time.NewTicker(rule.Interval)
	defer ticker.Stop()

	d.runRule(ctx, rule)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runRule(ctx, rule)
		}
	}
}

func (d *Daemon) runRule(ctx context.Context, rule config.Rule) {
	logger := log.Ctx(ctx).With().Str("rule", rule.Name).Logger()
	ctx = logger.WithContext(ctx)

	d.runCount.Add(1)
	start := time.Now()
	res, err := d.runner.Run(ctx, rule.Trigger)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		d.failCount.Add(1)
		d.metrics.RecordRuleRun(ctx, rule.Name, "failed", elapsed)
		logger.Error().Err(err).Dur("next_in", rule.Interval).Msg("scheduled export failed")
		return
	}

	d.metrics.RecordRuleRun(ctx, rule.Name, "succeeded", elapsed)
	d.metrics.RecordRuleRows(ctx, rule.Name, int64(res.Rows))
	logger.Info().
		Str("run_id", res.RunID).
		Int("rows", res.Rows).
		Dur("next_in", rule.Interval).
		Msg("scheduled export complete")
}

// Handler serves /health and, when configured, /metrics.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	if d.metricsHandler != nil {
		mux.Handle("/metrics", d.metricsHandler)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	return mux
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Rules:  len(d.rules),
		Runs:   d.runCount.Load(),
		Failed: d.failCount.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
	Rules  int    `json:"rules"`
	Runs   int64  `json:"runs"`
	Failed int64  `json:"failed"`
}

// RunCount returns total rule runs started
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}
