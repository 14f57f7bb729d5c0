// Package pipeline drives an optimization request through the normalize,
// analyze, optimize and format stages as a persisted state machine.
//
// Every status change is checked against the transition table and written
// to the run store before the next step starts. Stage outputs pass a
// quality gate before the run may advance; failed gates and failed
// external calls are retried with backoff up to configured limits.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/analysis"
	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/roi"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/internal/runstore"
	"github.com/pitabwire/leanflow/internal/synthesis"
	"github.com/pitabwire/leanflow/model"
)

// Normalizer turns a free-text process description into a descriptor.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) (*model.WorkflowDescriptor, error)
}

// Advisor enriches recommendations with implementation detail.
type Advisor interface {
	Advise(ctx context.Context, w *model.WorkflowDescriptor, recs []model.Recommendation) ([]model.Advice, error)
}

// Formatter renders a finished plan.
type Formatter interface {
	Format(ctx context.Context, plan *model.OptimizationPlan) (string, error)
}

// External service names, used for breakers, metrics and spans.
const (
	ServiceNormalizer = "normalizer"
	ServiceAdvisor    = "advisor"
	ServiceFormatter  = "formatter"
)

// Config holds orchestrator limits.
type Config struct {
	GateRetries      int
	MaxRetries       int
	Backoff          Backoff
	CallTimeout      time.Duration
	RunCeiling       time.Duration
	StaleAfter       time.Duration
	BreakerFailures  int
	BreakerSuccesses int
	BreakerCooldown  time.Duration
	MaxConcurrent    int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return ConfigFrom(config.Defaults().Pipeline)
}

// ConfigFrom converts the pipeline section of the application config.
func ConfigFrom(c config.PipelineConfig) Config {
	return Config{
		GateRetries: c.GateRetries,
		MaxRetries:  c.Retry.MaxRetries,
		Backoff: Backoff{
			Initial:    c.Retry.BackoffInitial,
			Multiplier: c.Retry.BackoffMultiplier,
			Max:        c.Retry.BackoffMax,
		},
		CallTimeout:      c.CallTimeout,
		RunCeiling:       c.RunCeiling,
		StaleAfter:       c.StaleAfter,
		BreakerFailures:  c.CircuitBreaker.FailureThreshold,
		BreakerSuccesses: c.CircuitBreaker.SuccessThreshold,
		BreakerCooldown:  c.CircuitBreaker.Timeout,
		MaxConcurrent:    c.MaxConcurrent,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNormalizer sets the collaborator used for raw descriptions.
func WithNormalizer(n Normalizer) Option { return func(o *Orchestrator) { o.normalizer = n } }

// WithAdvisor sets the collaborator that enriches recommendations.
func WithAdvisor(a Advisor) Option { return func(o *Orchestrator) { o.advisor = a } }

// WithFormatter sets the collaborator that renders plans. Without one,
// plans are rendered as indented JSON.
func WithFormatter(f Formatter) Option { return func(o *Orchestrator) { o.formatter = f } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics enables metric recording.
func WithMetrics(m *observability.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithScoreConfig sets the aggregator configuration.
func WithScoreConfig(c analysis.ScoreConfig) Option { return func(o *Orchestrator) { o.scoreCfg = c } }

// WithEstimator sets the ROI estimator.
func WithEstimator(e *roi.Estimator) Option { return func(o *Orchestrator) { o.estimator = e } }

// Orchestrator runs pipeline requests. Runs are independent and may execute
// concurrently; they share only the registry snapshot and the run store.
type Orchestrator struct {
	holder     *rules.Holder
	store      runstore.Store
	cfg        Config
	normalizer Normalizer
	advisor    Advisor
	formatter  Formatter
	scoreCfg   analysis.ScoreConfig
	estimator  *roi.Estimator
	logger     *zap.Logger
	metrics    *observability.Metrics
	breakers   map[string]*Breaker
	slots      chan struct{}
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	cancelRequested bool
	abort           context.CancelFunc
}

// execution is the in-memory working state of one run.
type execution struct {
	run      *model.PipelineRun
	reg      *rules.Registry
	stage    model.StageKind
	eval     analysis.Evaluation
	warnings []string
	logger   *zap.Logger
}

// New creates an orchestrator reading rules from holder and persisting runs
// to store.
func New(holder *rules.Holder, store runstore.Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		holder:    holder,
		store:     store,
		cfg:       cfg,
		scoreCfg:  analysis.DefaultScoreConfig(),
		estimator: roi.NewEstimator(roi.DefaultConfig()),
		logger:    zap.NewNop(),
		now:       time.Now,
		active:    make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.breakers = map[string]*Breaker{
		ServiceNormalizer: NewBreaker(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerCooldown),
		ServiceAdvisor:    NewBreaker(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerCooldown),
		ServiceFormatter:  NewBreaker(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerCooldown),
	}
	if cfg.MaxConcurrent > 0 {
		o.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return o
}

// Run executes a request synchronously. The returned run is the final
// state; for failed runs the error carries the run's error code.
func (o *Orchestrator) Run(ctx context.Context, in model.RunInput) (*model.PipelineRun, error) {
	run, reg, err := o.start(ctx, in, nil)
	if err != nil {
		return nil, err
	}
	defer o.unregister(run.SessionID)

	o.execute(ctx, run, reg)
	return run.Clone(), runError(run)
}

// Submit persists a new run and executes it in the background. The returned
// snapshot is the run as first persisted; poll Get for progress.
func (o *Orchestrator) Submit(ctx context.Context, in model.RunInput) (*model.PipelineRun, error) {
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	run, reg, err := o.start(ctx, in, abort)
	if err != nil {
		abort()
		return nil, err
	}
	snapshot := run.Clone()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer abort()
		defer o.unregister(run.SessionID)
		o.execute(runCtx, run, reg)
	}()
	return snapshot, nil
}

// Get returns the persisted state of a run.
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (*model.PipelineRun, error) {
	return o.store.Get(ctx, sessionID)
}

// Cancel requests cancellation. A run executing in this process stops at
// the next stage boundary; any other non-terminal run is failed at once.
// Cancelling a terminal run returns CONFLICT.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*model.PipelineRun, error) {
	o.mu.Lock()
	if a, ok := o.active[sessionID]; ok {
		a.cancelRequested = true
		o.mu.Unlock()
		return o.store.Get(ctx, sessionID)
	}
	o.mu.Unlock()

	run, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return run, model.NewConflictError(fmt.Sprintf("run %q is already %s", sessionID, run.Status))
	}

	x := &execution{run: run, stage: currentStage(run), logger: observability.RunLogger(ctx, o.logger, sessionID)}
	if err := o.fail(ctx, x, model.NewCancelledError()); err != nil {
		return nil, err
	}
	o.finished(x)
	return run.Clone(), nil
}

// ExpireStale fails non-terminal runs that are not executing in this
// process and have not been updated within the stale window. It returns the
// number of runs failed.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	if o.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	runs, err := o.store.FindStale(ctx, o.now().Add(-o.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, run := range runs {
		if o.isActive(run.SessionID) {
			continue
		}
		x := &execution{run: run, stage: currentStage(run), logger: observability.RunLogger(ctx, o.logger, run.SessionID)}
		if err := o.fail(ctx, x, model.NewRunDeadlineExceededError()); err != nil {
			x.logger.Warn("failed to expire stale run", zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Wait blocks until every submitted run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown aborts submitted runs and waits for them to record their final
// state, or until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, a := range o.active {
		if a.abort != nil {
			a.abort()
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start validates the request shape, snapshots the registry and persists
// the run in received.
func (o *Orchestrator) start(ctx context.Context, in model.RunInput, abort context.CancelFunc) (*model.PipelineRun, *rules.Registry, error) {
	if in.Workflow == nil && strings.TrimSpace(in.RawDescription) == "" {
		return nil, nil, model.NewInputValidationError([]model.FieldError{{
			Field:   "workflow",
			Code:    "REQUIRED",
			Message: "either workflow or raw_description is required",
		}})
	}
	reg := o.holder.Current()
	if reg == nil {
		return nil, nil, model.NewRegistryLoadError([]model.FieldError{{
			Field: "rules", Code: "EMPTY", Message: "no rule registry loaded",
		}})
	}

	now := o.now().UTC()
	run := &model.PipelineRun{
		SessionID:       uuid.New().String(),
		Status:          model.RunReceived,
		Stages:          make(map[model.StageKind]model.StageState, len(model.Stages)),
		Input:           in,
		RegistryVersion: reg.Version(),
		CreatedAt:       now,
	}
	for _, s := range model.Stages {
		run.Stages[s] = model.StageState{Status: model.StageStatusPending}
	}
	if o.cfg.RunCeiling > 0 {
		deadline := now.Add(o.cfg.RunCeiling)
		run.Deadline = &deadline
	}
	run.Events = append(run.Events, model.RunEvent{
		ID: uuid.New().String(), To: model.RunReceived, Timestamp: now,
	})

	o.mu.Lock()
	o.active[run.SessionID] = &activeRun{abort: abort}
	o.mu.Unlock()

	if err := o.save(ctx, run); err != nil {
		o.unregister(run.SessionID)
		return nil, nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordRunStart()
	}
	observability.RunLogger(ctx, o.logger, run.SessionID).Info("run received",
		zap.String("registry_version", run.RegistryVersion),
	)
	return run, reg, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *model.PipelineRun, reg *rules.Registry) {
	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		observability.AttrSessionID.String(run.SessionID),
		observability.AttrRegistryVersion.String(run.RegistryVersion),
	)
	if run.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *run.Deadline)
		defer cancel()
	}
	x := &execution{run: run, reg: reg, logger: observability.RunLogger(ctx, o.logger, run.SessionID)}

	err := o.acquire(ctx)
	if err == nil {
		defer o.release()
		for _, stage := range model.Stages {
			x.stage = stage
			if err = o.checkpoint(ctx, run); err != nil {
				break
			}
			if err = o.runStage(ctx, x, stage); err != nil {
				break
			}
		}
	}
	if err != nil {
		if ferr := o.fail(ctx, x, err); ferr != nil {
			x.logger.Error("failed to record run failure", zap.Error(ferr))
		}
	}
	observability.EndSpanWithError(span, err)
	o.finished(x)
}

func (o *Orchestrator) runStage(ctx context.Context, x *execution, stage model.StageKind) error {
	running, done := stageStatuses(stage)

	ctx, span := observability.StartSpan(ctx, "pipeline.stage."+string(stage),
		observability.AttrSessionID.String(x.run.SessionID),
		observability.AttrStage.String(string(stage)),
	)
	start := o.now()
	err := o.stageLoop(ctx, x, stage, running, done)
	observability.EndSpanWithError(span, err)

	if o.metrics != nil {
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		o.metrics.RecordStage(string(stage), outcome, o.now().Sub(start))
	}
	return err
}

func (o *Orchestrator) stageLoop(ctx context.Context, x *execution, stage model.StageKind, running, done model.RunStatus) error {
	now := o.now().UTC()
	st := x.run.Stages[stage]
	st.Status = model.StageStatusRunning
	st.Attempts++
	st.StartedAt = &now
	x.run.Stages[stage] = st
	if err := o.transition(ctx, x, running, ""); err != nil {
		return err
	}

	var gateFailures, upstreamFailures int
	for {
		err := o.attempt(ctx, x, stage)
		if err == nil {
			break
		}

		var reason string
		var n int
		switch {
		case model.IsCode(err, model.ErrQualityGateFailure):
			gateFailures++
			reason, n = "gate", gateFailures
			if gateFailures > o.cfg.GateRetries {
				return err
			}
		case model.Retryable(err):
			upstreamFailures++
			reason, n = "upstream", upstreamFailures
			if upstreamFailures > o.cfg.MaxRetries {
				return err
			}
		default:
			return err
		}

		x.logger.Warn("stage attempt failed, retrying",
			zap.String("stage", string(stage)),
			zap.String("reason", reason),
			zap.Int("attempt", x.run.Stages[stage].Attempts),
			zap.Error(err),
		)
		if o.metrics != nil {
			o.metrics.RecordStageRetry(string(stage), reason)
		}

		st := x.run.Stages[stage]
		st.Retries++
		st.LastError = err.Error()
		x.run.Stages[stage] = st
		x.run.Resume = running
		if err := o.transition(ctx, x, model.RunRetrying, err.Error()); err != nil {
			return err
		}

		if err := sleep(ctx, o.cfg.Backoff.Delay(n)); err != nil {
			return interruption(ctx)
		}

		st = x.run.Stages[stage]
		st.Attempts++
		x.run.Stages[stage] = st
		if err := o.transition(ctx, x, running, ""); err != nil {
			return err
		}
	}

	now = o.now().UTC()
	st = x.run.Stages[stage]
	st.Status = model.StageStatusCompleted
	st.FinishedAt = &now
	x.run.Stages[stage] = st
	return o.transition(ctx, x, done, "")
}

func (o *Orchestrator) attempt(ctx context.Context, x *execution, stage model.StageKind) error {
	switch stage {
	case model.StageNormalize:
		return o.normalize(ctx, x)
	case model.StageAnalyze:
		return o.analyze(ctx, x)
	case model.StageOptimize:
		return o.optimize(ctx, x)
	case model.StageFormat:
		return o.format(ctx, x)
	}
	return model.NewInternalError()
}

func (o *Orchestrator) normalize(ctx context.Context, x *execution) error {
	in := x.run.Input
	var w *model.WorkflowDescriptor
	if in.Workflow != nil {
		cp := *in.Workflow
		w = &cp
	} else {
		if o.normalizer == nil {
			return model.NewInputValidationError([]model.FieldError{{
				Field:   "raw_description",
				Code:    "UNSUPPORTED",
				Message: "no normalizer is configured; submit a structured workflow",
			}})
		}
		err := o.call(ctx, x, ServiceNormalizer, func(ctx context.Context) error {
			var err error
			w, err = o.normalizer.Normalize(ctx, in.RawDescription)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := normalizedGate(w); err != nil {
		return err
	}
	x.run.Workflow = w
	x.warnings = w.Warnings()
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, x *execution) error {
	ev, err := analysis.NewEngine(x.reg).Evaluate(x.run.Workflow)
	if err != nil {
		return err
	}
	score := analysis.NewAggregator(x.reg, o.scoreCfg).Score(ev)
	if err := analyzedGate(&score); err != nil {
		return err
	}
	x.eval = ev
	x.run.Score = &score

	if o.metrics != nil {
		for _, v := range ev.Violations {
			o.metrics.RecordViolation(string(v.Framework), string(v.Severity))
		}
		o.metrics.RecordScore(score.Value)
	}
	x.logger.Debug("workflow analyzed",
		zap.Int("violations", len(ev.Violations)),
		zap.Float64("score", score.Value),
	)
	return nil
}

func (o *Orchestrator) optimize(ctx context.Context, x *execution) error {
	recs := synthesis.New(x.reg).Synthesize(x.eval)

	if o.advisor != nil && len(recs) > 0 {
		var advice []model.Advice
		err := o.call(ctx, x, ServiceAdvisor, func(ctx context.Context) error {
			var err error
			advice, err = o.advisor.Advise(ctx, x.run.Workflow, append([]model.Recommendation(nil), recs...))
			return err
		})
		if err != nil {
			return err
		}
		recs = applyAdvice(recs, advice)
	}

	plan := &model.OptimizationPlan{
		SessionID:       x.run.SessionID,
		RegistryVersion: x.run.RegistryVersion,
		Score:           *x.run.Score,
		Violations:      x.eval.Violations,
		Recommendations: recs,
		Warnings:        x.warnings,
		GeneratedAt:     o.now().UTC(),
	}

	res, err := o.estimator.EstimatePlan(recs, x.run.Input.Org)
	switch {
	case model.IsCode(err, model.ErrMissingCostData):
		plan.ROIIncomplete = true
		plan.ROIIssue = err.Error()
	case err != nil:
		return err
	default:
		for i := range plan.Recommendations {
			if r, ok := res.PerRecommendation[plan.Recommendations[i].ID]; ok {
				plan.Recommendations[i].ROI = &r
			}
		}
		plan.AggregateROI = res.Aggregate
	}

	if err := optimizedGate(plan); err != nil {
		return err
	}
	x.run.Plan = plan
	return nil
}

func (o *Orchestrator) format(ctx context.Context, x *execution) error {
	var report string
	if o.formatter == nil {
		data, err := json.MarshalIndent(x.run.Plan, "", "  ")
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		report = string(data)
	} else {
		err := o.call(ctx, x, ServiceFormatter, func(ctx context.Context) error {
			var err error
			report, err = o.formatter.Format(ctx, x.run.Plan)
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := formattedGate(report); err != nil {
		return err
	}
	x.run.Report = report
	return nil
}

// call invokes an external service behind its breaker with a per-call
// timeout. Errors without a taxonomy code become UPSTREAM_TIMEOUT or
// UPSTREAM_UNAVAILABLE. Interruption of the run itself is reported as
// CANCELLED or RUN_DEADLINE_EXCEEDED instead.
func (o *Orchestrator) call(ctx context.Context, x *execution, service string, fn func(context.Context) error) error {
	br := o.breakers[service]
	if err := br.Allow(); err != nil {
		o.breakerGauge(service, br)
		return model.NewUpstreamUnavailableError(service, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	callCtx, span := observability.StartSpan(callCtx, "upstream."+service,
		observability.AttrService.String(service),
		observability.AttrAttempt.Int(x.run.Stages[x.stage].Attempts),
	)

	start := o.now()
	err := fn(callCtx)
	if err != nil {
		if ierr := interruption(ctx); ierr != nil {
			observability.EndSpanWithError(span, ierr)
			return ierr
		}
		err = upstreamError(service, err)
		if model.Retryable(err) {
			br.RecordFailure()
		}
	} else {
		br.RecordSuccess()
	}
	observability.EndSpanWithError(span, err)

	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = model.ErrorCode(err)
		}
		o.metrics.RecordUpstreamCall(service, outcome, o.now().Sub(start))
	}
	o.breakerGauge(service, br)
	return err
}

func upstreamError(service string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewUpstreamTimeoutError(service, err)
	}
	return model.NewUpstreamUnavailableError(service, err)
}

func (o *Orchestrator) breakerGauge(service string, br *Breaker) {
	if o.metrics != nil {
		o.metrics.SetCircuitBreakerState(service, float64(br.State()))
	}
}

// transition moves the run to status to and persists it.
func (o *Orchestrator) transition(ctx context.Context, x *execution, to model.RunStatus, detail string) error {
	from := x.run.Status
	if !CanTransition(from, to) {
		return model.NewInvalidTransitionError(from, to)
	}
	if from == model.RunRetrying && to != model.RunFailed && to != x.run.Resume {
		return model.NewInvalidTransitionError(from, to)
	}

	now := o.now().UTC()
	x.run.Status = to
	if from == model.RunRetrying {
		x.run.Resume = ""
	}
	x.run.Events = append(x.run.Events, model.RunEvent{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Stage:     x.stage,
		Detail:    detail,
		Timestamp: now,
	})
	if err := o.save(ctx, x.run); err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordTransition(string(from), string(to))
	}
	x.logger.Info("run transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("stage", string(x.stage)),
		zap.Int("version", x.run.Version),
	)
	return nil
}

// save bumps the version and writes the run, retrying PERSISTENCE_ERROR
// with backoff. Writes are detached from ctx cancellation so a cancelled or
// expired run can still record its final state.
func (o *Orchestrator) save(ctx context.Context, run *model.PipelineRun) error {
	ctx = context.WithoutCancel(ctx)
	run.Version++
	run.UpdatedAt = o.now().UTC()

	var err error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			_ = sleep(ctx, o.cfg.Backoff.Delay(attempt))
		}
		pctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		err = o.store.Put(pctx, run)
		cancel()
		if err == nil || !model.IsCode(err, model.ErrPersistence) {
			return err
		}
		o.logger.Warn("run store write failed",
			zap.String("session_id", run.SessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

// fail records err as the run's terminal cause. A CONFLICT from the store
// means another writer already finished the run; the stored state is
// adopted instead.
func (o *Orchestrator) fail(ctx context.Context, x *execution, err error) error {
	if model.IsCode(err, model.ErrConflict) {
		stored, gerr := o.store.Get(context.WithoutCancel(ctx), x.run.SessionID)
		if gerr != nil {
			return gerr
		}
		*x.run = *stored
		x.logger.Warn("run was finished by another writer", zap.String("status", string(stored.Status)))
		return nil
	}

	msg := err.Error()
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		msg = env.Message
	}
	x.run.Error = &model.RunError{Code: model.ErrorCode(err), Stage: x.stage, Message: msg}

	now := o.now().UTC()
	for _, s := range model.Stages {
		st := x.run.Stages[s]
		switch {
		case s == x.stage:
			st.Status = model.StageStatusFailed
			st.LastError = msg
			st.FinishedAt = &now
		case st.Status == model.StageStatusPending:
			st.Status = model.StageStatusSkipped
		}
		x.run.Stages[s] = st
	}
	return o.transition(ctx, x, model.RunFailed, msg)
}

func (o *Orchestrator) finished(x *execution) {
	run := x.run
	if !run.Terminal() {
		return
	}
	code := ""
	if run.Error != nil {
		code = run.Error.Code
	}
	if o.metrics != nil {
		o.metrics.RecordRunFinish(string(run.Status), code)
	}
	x.logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.String("code", code),
		zap.Int("retries", run.RetryCount()),
		zap.Duration("duration", run.UpdatedAt.Sub(run.CreatedAt)),
	)
}

// checkpoint is evaluated between stages.
func (o *Orchestrator) checkpoint(ctx context.Context, run *model.PipelineRun) error {
	o.mu.Lock()
	a, ok := o.active[run.SessionID]
	cancelled := ok && a.cancelRequested
	o.mu.Unlock()
	if cancelled {
		return model.NewCancelledError()
	}
	if err := interruption(ctx); err != nil {
		return err
	}
	if run.Deadline != nil && !o.now().Before(*run.Deadline) {
		return model.NewRunDeadlineExceededError()
	}
	return nil
}

func interruption(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return model.NewRunDeadlineExceededError()
	default:
		return model.NewCancelledError()
	}
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	if o.slots == nil {
		return nil
	}
	select {
	case o.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return interruption(ctx)
	}
}

func (o *Orchestrator) release() {
	if o.slots != nil {
		<-o.slots
	}
}

func (o *Orchestrator) unregister(sessionID string) {
	o.mu.Lock()
	delete(o.active, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) isActive(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sessionID]
	return ok
}

// currentStage returns the last stage that has started.
func currentStage(run *model.PipelineRun) model.StageKind {
	var cur model.StageKind
	for _, s := range model.Stages {
		if st := run.Stages[s].Status; st != "" && st != model.StageStatusPending {
			cur = s
		}
	}
	return cur
}

// applyAdvice appends advised steps and rationales. Advice for unknown
// recommendations is ignored.
func applyAdvice(recs []model.Recommendation, advice []model.Advice) []model.Recommendation {
	byID := make(map[string]model.Advice, len(advice))
	for _, a := range advice {
		byID[a.RecommendationID] = a
	}

	out := make([]model.Recommendation, len(recs))
	copy(out, recs)
	for i := range out {
		a, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		steps := append([]string(nil), out[i].Steps...)
		seen := make(map[string]bool, len(steps))
		for _, s := range steps {
			seen[s] = true
		}
		for _, s := range a.Steps {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			steps = append(steps, s)
		}
		out[i].Steps = steps
		if a.Rationale != "" {
			out[i].Rationale = a.Rationale
		}
	}
	return out
}

func runError(run *model.PipelineRun) error {
	if run.Error == nil {
		return nil
	}
	return &model.ErrorEnvelope{Code: run.Error.Code, Message: run.Error.Message}
}
