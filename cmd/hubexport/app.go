package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/hubexport/internal/checkpoint"
	"github.com/yairfalse/hubexport/internal/config"
	"github.com/yairfalse/hubexport/internal/delivery"
	"github.com/yairfalse/hubexport/internal/fetcher"
	"github.com/yairfalse/hubexport/internal/store"
	"github.com/yairfalse/hubexport/internal/telemetry"
	"github.com/yairfalse/hubexport/orchestrator"
)

// app holds the wired pipeline for one CLI invocation.
type app struct {
	orchestrator *orchestrator.Orchestrator
	checkpoints  *checkpoint.BoltStore
	telemetry    *telemetry.Provider
}

// newApp wires AWS clients, storage and delivery from cfg. Dry runs keep
// partitions and reports in memory and log emails instead of sending them.
func newApp(ctx context.Context, cfg *config.Config, dryRun bool) (*app, error) {
	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{telemetry: tp}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	objects, err := newObjectStore(awsCfg, cfg, dryRun)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var mailer delivery.Mailer = sesv2.NewFromConfig(awsCfg)
	if dryRun {
		mailer = delivery.LogMailer{}
	}

	f := fetcher.New(securityhub.NewFromConfig(awsCfg), fetcher.Config{
		Rate:  cfg.Pipeline.FetchRate,
		Burst: cfg.Pipeline.FetchBurst,
	})
	notifier := delivery.NewNotifier(mailer, objects, nil, delivery.Config{LinkExpiry: cfg.Pipeline.LinkExpiry})

	a.orchestrator, err = orchestrator.New(f, objects, notifier, orchestrator.Config{
		RunTimeout:    cfg.Pipeline.RunTimeout,
		StageAttempts: cfg.Pipeline.StageAttempts,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.orchestrator.WithTracer(tp.Tracer())

	if cfg.Pipeline.CheckpointPath != "" {
		a.checkpoints, err = checkpoint.Open(cfg.Pipeline.CheckpointPath)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.orchestrator.WithCheckpoints(a.checkpoints)
	}

	log.Ctx(ctx).Debug().
		Str("region", awsCfg.Region).
		Str("storage", cfg.Storage.Backend).
		Bool("dry_run", dryRun).
		Bool("checkpoints", a.checkpoints != nil).
		Msg("pipeline ready")

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.checkpoints != nil {
		if err := a.checkpoints.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("close checkpoints")
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("shutdown telemetry")
		}
	}
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		return aws.Config{}, errors.New("no AWS region configured (set [aws] region or AWS_REGION)")
	}
	return awsCfg, nil
}

func newObjectStore(awsCfg aws.Config, cfg *config.Config, dryRun bool) (store.ObjectStore, error) {
	if dryRun {
		return store.NewMemoryStore(), nil
	}
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendMinio:
		m := cfg.Storage.Minio
		return store.NewMinioStore(store.MinioConfig{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
		})
	default:
		return store.NewS3StoreFromConfig(awsCfg, store.S3Config{Endpoint: cfg.AWS.Endpoint}), nil
	}
}
