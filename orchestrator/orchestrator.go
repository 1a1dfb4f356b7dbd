// Package orchestrator runs the Security Hub export as a state machine:
// fetch pages until the cursor runs out, aggregate, then deliver.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/hubexport/internal/aggregator"
	"github.com/yairfalse/hubexport/internal/batch"
	"github.com/yairfalse/hubexport/internal/clock"
	"github.com/yairfalse/hubexport/internal/delivery"
	"github.com/yairfalse/hubexport/internal/fetcher"
	"github.com/yairfalse/hubexport/internal/filter"
	"github.com/yairfalse/hubexport/internal/store"
)

const (
	// DefaultRunTimeout is the wall-clock budget of a run, measured from its start.
	DefaultRunTimeout = 15 * time.Hour

	// DefaultStageAttempts is how many times a stage runs before the run fails.
	DefaultStageAttempts uint = 3

	// DefaultRetryInitialInterval is the first backoff delay between stage attempts.
	DefaultRetryInitialInterval = 500 * time.Millisecond
)

// PageFetcher returns one page of findings per call.
type PageFetcher interface {
	FetchPage(ctx context.Context, maxResults int32, cursor string) (fetcher.Page, error)
}

// Notifier delivers the aggregated report.
type Notifier interface {
	Deliver(ctx context.Context, msg delivery.Message, mode delivery.Mode) (delivery.Receipt, error)
}

// Checkpointer persists run state between transitions.
type Checkpointer interface {
	Save(runID string, state any) error
	Load(runID string, state any) error
	Delete(runID string) error
}

// Config holds orchestrator settings.
type Config struct {
	RunTimeout           time.Duration
	StageAttempts        uint
	RetryInitialInterval time.Duration
}

// Orchestrator coordinates fetch → filter → write → aggregate → deliver.
type Orchestrator struct {
	fetcher     PageFetcher
	store       store.ObjectStore
	notifier    Notifier
	checkpoints Checkpointer
	clock       clock.Clock
	metrics     *Metrics
	tracer      trace.Tracer

	runTimeout   time.Duration
	attempts     uint
	retryInitial time.Duration
}

// New creates an orchestrator. Zero config values take the defaults.
func New(f PageFetcher, s store.ObjectStore, n Notifier, cfg Config) (*Orchestrator, error) {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.StageAttempts == 0 {
		cfg.StageAttempts = DefaultStageAttempts
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultRetryInitialInterval
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Orchestrator{
		fetcher:      f,
		store:        s,
		notifier:     n,
		clock:        clock.System{},
		metrics:      metrics,
		tracer:       otel.Tracer("hubexport.orchestrator"),
		runTimeout:   cfg.RunTimeout,
		attempts:     cfg.StageAttempts,
		retryInitial: cfg.RetryInitialInterval,
	}, nil
}

// WithCheckpoints enables run state persistence and Resume.
func (o *Orchestrator) WithCheckpoints(c Checkpointer) *Orchestrator {
	o.checkpoints = c
	return o
}

// WithTracer sets the tracer used for run and stage spans.
func (o *Orchestrator) WithTracer(t trace.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// WithClock sets the clock used for namespaces and the run budget.
func (o *Orchestrator) WithClock(c clock.Clock) *Orchestrator {
	o.clock = c
	return o
}

// Run validates the trigger and executes a new export run.
func (o *Orchestrator) Run(ctx context.Context, t Trigger) (*RunResult, error) {
	if err := t.Validate(); err != nil {
		log.Ctx(ctx).Error().Ctx(ctx).Err(err).Msg("trigger rejected")
		o.metrics.RecordRun(ctx, "invalid", 0)
		return nil, err
	}

	now := o.clock.Now()
	st := &RunState{
		RunID:      uuid.NewString(),
		Namespace:  batch.NamespaceFor(now),
		Trigger:    t,
		Bucket:     strings.TrimSpace(t.Bucket),
		Sender:     strings.TrimSpace(t.SenderEmail),
		Recipients: nonEmpty(t.RecipientEmails),
		StartedAt:  now,
		State:      StateInitializeDefaults,
		Partitions: []string{},
	}
	return o.execute(ctx, st)
}

// Resume continues a checkpointed run from its saved state.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*RunResult, error) {
	if o.checkpoints == nil {
		return nil, fmt.Errorf("resume %s: no checkpoint store configured", runID)
	}

	var st RunState
	if err := o.checkpoints.Load(runID, &st); err != nil {
		return nil, fmt.Errorf("resume %s: %w", runID, err)
	}
	if st.State.Terminal() {
		return nil, fmt.Errorf("resume %s: run already %s", runID, st.State)
	}

	log.Ctx(ctx).Info().Ctx(ctx).
		Str("run_id", runID).
		Str("state", string(st.State)).
		Int("page", st.Page).
		Str("last_error", st.LastError).
		Msg("resuming run")

	st.LastError = ""
	return o.execute(ctx, &st)
}

func (o *Orchestrator) execute(ctx context.Context, st *RunState) (*RunResult, error) {
	began := time.Now()

	ctx, span := o.tracer.Start(ctx, "hubexport.run", trace.WithAttributes(
		attribute.String("run.id", st.RunID),
		attribute.String("run.namespace", st.Namespace.String()),
		attribute.String("run.bucket", st.Bucket),
	))
	defer span.End()

	logger := log.Ctx(ctx).With().
		Ctx(ctx).
		Str("run_id", st.RunID).
		Str("namespace", st.Namespace.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	remaining := o.runTimeout - o.clock.Now().Sub(st.StartedAt)
	if remaining <= 0 {
		return o.fail(ctx, st, began, fmt.Errorf("%w: budget of %s exhausted", ErrRunTimeout, o.runTimeout))
	}
	runCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	logger.Info().
		Str("state", string(st.State)).
		Dur("budget", remaining).
		Msg("export run started")

	for !st.State.Terminal() {
		if err := o.step(runCtx, st); err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%w after %s: %v", ErrRunTimeout, o.runTimeout, err)
			}
			return o.fail(ctx, st, began, err)
		}
		if !st.State.Terminal() {
			o.save(ctx, st)
		}
	}

	o.forget(ctx, st)

	res := st.result(time.Since(began))
	o.metrics.RecordRun(ctx, "succeeded", res.Duration)
	span.SetStatus(codes.Ok, "")

	logger.Info().
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Int("rows", res.Rows).
		Int64("artifact_bytes", res.ArtifactSize).
		Str("mode", string(res.Mode)).
		Dur("duration", res.Duration).
		Msg("export run complete")

	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, st *RunState, began time.Time, err error) (*RunResult, error) {
	st.LastError = err.Error()
	o.save(ctx, st)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	res := st.result(time.Since(began))
	res.State = StateFailed
	o.metrics.RecordRun(ctx, "failed", res.Duration)

	log.Ctx(ctx).Error().
		Err(err).
		Str("state", string(st.State)).
		Int("pages", st.Page).
		Msg("export run failed")

	return res, fmt.Errorf("run %s failed in %s: %w", st.RunID, st.State, err)
}

func (o *Orchestrator) step(ctx context.Context, st *RunState) error {
	switch st.State {
	case StateInitializeDefaults:
		st.Params = DefaultParameters()
		st.State = StateSetMissingParameters
	case StateSetMissingParameters:
		st.Params = st.Trigger.applyTo(st.Params)
		st.State = StateFetchWithoutCursor
	case StateFetchWithoutCursor:
		return o.fetchStage(ctx, st, "")
	case StateCheckForCursor:
		if st.Cursor != "" {
			st.State = StateFetchWithCursor
		} else {
			st.State = StateAggregate
		}
	case StateFetchWithCursor:
		return o.fetchStage(ctx, st, st.Cursor)
	case StateAggregate:
		return o.aggregateStage(ctx, st)
	case StateDeliver:
		return o.deliverStage(ctx, st)
	default:
		return fmt.Errorf("unknown state %q", st.State)
	}
	return nil
}

// fetchStage fetches one page, filters it and writes it as the next partition.
func (o *Orchestrator) fetchStage(ctx context.Context, st *RunState, cursor string) error {
	ctx, span := o.tracer.Start(ctx, "hubexport.stage.fetch", trace.WithAttributes(
		attribute.Int("page", st.Page),
		attribute.Bool("cursor", cursor != ""),
	))
	defer span.End()
	ctx = spanLogger(ctx)

	writer := batch.NewWriter(o.store, st.Bucket)
	criteria := st.Params.Criteria()

	out, err := retryStage(ctx, o, st.State, func() (StageOutput, error) {
		page, err := o.fetcher.FetchPage(ctx, st.Params.MaxResults, cursor)
		if err != nil {
			return StageOutput{}, err
		}
		records := filter.Apply(page.Entries, criteria)
		loc, err := writer.WritePartition(ctx, st.Namespace, st.RunID, st.Page, records)
		if err != nil {
			return StageOutput{}, err
		}
		return StageOutput{
			NextCursor: page.NextCursor,
			Partition:  loc,
			Fetched:    len(page.Entries),
			Kept:       len(records),
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("fetch page %d: %w", st.Page, err)
	}

	st.Page++
	st.Cursor = out.NextCursor
	st.Partitions = append(st.Partitions, out.Partition.Key)
	st.Fetched += out.Fetched
	st.Kept += out.Kept
	st.State = StateCheckForCursor

	o.metrics.RecordPage(ctx, out.Fetched, out.Kept)
	log.Ctx(ctx).Debug().
		Int("page", st.Page).
		Int("fetched", out.Fetched).
		Int("kept", out.Kept).
		Str("partition", out.Partition.Key).
		Bool("more", out.NextCursor != "").
		Msg("page written")

	return nil
}

func (o *Orchestrator) aggregateStage(ctx context.Context, st *RunState) error {
	ctx, span := o.tracer.Start(ctx, "hubexport.stage.aggregate")
	defer span.End()
	ctx = spanLogger(ctx)

	agg := aggregator.New(o.store, st.Bucket)
	art, err := retryStage(ctx, o, st.State, func() (*aggregator.Artifact, error) {
		return agg.Aggregate(ctx, st.Namespace, st.RunID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("aggregate: %w", err)
	}

	st.report = art.Body
	st.Artifact = &ArtifactRef{
		Key:        art.Key,
		RunKey:     art.RunKey,
		Size:       art.Size,
		Rows:       art.Rows,
		Partitions: art.Partitions,
	}
	st.Mode = delivery.Decide(art.Size)
	st.State = StateDeliver

	span.SetAttributes(
		attribute.Int64("artifact.size", art.Size),
		attribute.Int("artifact.rows", art.Rows),
		attribute.String("delivery.mode", string(st.Mode)),
	)
	log.Ctx(ctx).Info().
		Str("artifact", store.URI(st.Bucket, art.Key)).
		Int("rows", art.Rows).
		Int("partitions", art.Partitions).
		Int64("bytes", art.Size).
		Str("mode", string(st.Mode)).
		Msg("report aggregated")

	return nil
}

func (o *Orchestrator) deliverStage(ctx context.Context, st *RunState) error {
	ctx, span := o.tracer.Start(ctx, "hubexport.stage.deliver", trace.WithAttributes(
		attribute.String("delivery.mode", string(st.Mode)),
	))
	defer span.End()
	ctx = spanLogger(ctx)

	if st.Artifact == nil || st.Artifact.RunKey == "" {
		return errors.New("deliver: no artifact")
	}

	msg := delivery.Message{
		Sender:     st.Sender,
		Recipients: st.Recipients,
		Subject:    st.Params.Subject,
		BodyText:   st.Params.BodyText,
		Bucket:     st.Bucket,
		Key:        st.Artifact.RunKey,
		Size:       st.Artifact.Size,
	}

	receipt, err := retryStage(ctx, o, st.State, func() (delivery.Receipt, error) {
		if err := o.loadReport(ctx, st, &msg); err != nil {
			return delivery.Receipt{}, err
		}
		return o.notifier.Deliver(ctx, msg, st.Mode)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deliver: %w", err)
	}

	st.MessageID = receipt.MessageID
	st.State = StateDone
	o.metrics.RecordDelivery(ctx, string(receipt.Mode))

	return nil
}

// loadReport fills the message from this run's own report object. The aggregated body is
// reused when the run aggregated in this process; a resumed run reads its run-scoped copy.
func (o *Orchestrator) loadReport(ctx context.Context, st *RunState, msg *delivery.Message) error {
	size, err := o.store.Size(ctx, st.Bucket, msg.Key)
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}
	msg.Size = size

	if st.Mode != delivery.ModeInline || msg.Report != nil {
		return nil
	}
	if st.report != nil {
		msg.Report = st.report
		return nil
	}
	body, err := o.store.Get(ctx, st.Bucket, msg.Key)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	msg.Report = body
	return nil
}

// spanLogger rebinds the context logger to ctx so its entries carry the current span.
func spanLogger(ctx context.Context) context.Context {
	l := log.Ctx(ctx).With().Ctx(ctx).Logger()
	return l.WithContext(ctx)
}

// retryStage runs op with exponential backoff. Validation and cancellation are final.
func retryStage[T any](ctx context.Context, o *Orchestrator, stage State, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInitial

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && isPermanent(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.metrics.RecordRetry(ctx, string(stage))
			log.Ctx(ctx).Warn().
				Err(err).
				Str("stage", string(stage)).
				Dur("retry_in", next).
				Msg("stage failed, retrying")
		}),
	)
}

func isPermanent(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, batch.ErrInvalidPartition) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) save(ctx context.Context, st *RunState) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Save(st.RunID, st); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("state", string(st.State)).Msg("failed to save checkpoint")
	}
}

func (o *Orchestrator) forget(ctx context.Context, st *RunState) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Delete(st.RunID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to delete checkpoint")
	}
}
