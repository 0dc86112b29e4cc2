package orchestrator

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/contract-analyzer/internal/agent"
)

// Pipeline runs the three phase-one analysts concurrently, waits for all of
// them, then hands the aggregated results to the manager.
type Pipeline struct {
	workers   []Worker
	manager   Consolidator
	recorder  Recorder
	publisher Publisher
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithPublisher attaches an event publisher.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// NewPipeline wires the analysts into a pipeline.
func NewPipeline(workers []Worker, manager Consolidator, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		workers:  workers,
		manager:  manager,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run analyzes text. The only error it returns is a *PipelineError for a
// panic that escaped an analyst; analyst failures are carried in the report.
func (p *Pipeline) Run(ctx context.Context, text string) (*Report, error) {
	runID := uuid.New().String()
	start := time.Now()
	log := p.logger.With(zap.String("run_id", runID))

	p.recorder.RunStarted()
	p.publish(ctx, &Event{RunID: runID, Type: EventRunStarted})
	log.Info("analysis run started",
		zap.Int("chars", len([]rune(text))),
		zap.Int("workers", len(p.workers)))

	// each goroutine owns exactly one slot
	results := make([]agent.Result, len(p.workers))

	var g errgroup.Group
	for i, w := range p.workers {
		g.Go(func() (err error) {
			defer p.recoverInto(&err, runID, w.ID())

			wStart := time.Now()
			res := w.Analyze(ctx, text)
			if res.Role == "" {
				res.Role = w.Role()
			}
			results[i] = res
			p.workerDone(ctx, log, runID, EventAnalysisCompleted, res, time.Since(wStart))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, p.fail(log, err, start)
	}

	agg := make(agent.Aggregated, len(results))
	for _, res := range results {
		agg[res.Role] = res
	}

	consolidated, err := p.consolidate(ctx, log, runID, agg)
	if err != nil {
		return nil, p.fail(log, err, start)
	}

	report := &Report{
		RunID:        runID,
		Aggregated:   agg,
		Consolidated: consolidated,
		Duration:     time.Since(start),
	}

	status := StatusCompleted
	if report.Degraded() > 0 {
		status = StatusDegraded
	}
	p.recorder.RunFinished(status, report.Duration)
	p.publish(ctx, &Event{
		RunID:      runID,
		Type:       EventRunCompleted,
		Status:     status,
		DurationMS: report.Duration.Milliseconds(),
	})
	log.Info("analysis run finished",
		zap.String("status", status),
		zap.Int("degraded", report.Degraded()),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (p *Pipeline) consolidate(ctx context.Context, log *zap.Logger, runID string, agg agent.Aggregated) (res agent.Result, err error) {
	defer p.recoverInto(&err, runID, p.manager.ID())

	start := time.Now()
	res = p.manager.Consolidate(ctx, agg)
	p.workerDone(ctx, log, runID, EventConsolidationCompleted, res, time.Since(start))
	return res, nil
}

func (p *Pipeline) recoverInto(err *error, runID string, id agent.AgentID) {
	if r := recover(); r != nil {
		*err = &PipelineError{RunID: runID, Agent: id, Value: r, Stack: debug.Stack()}
	}
}

func (p *Pipeline) workerDone(ctx context.Context, log *zap.Logger, runID string, typ EventType, res agent.Result, d time.Duration) {
	status := StatusOK
	if res.Degraded() {
		status = string(res.Failure)
		if status == "" {
			status = StatusFailed
		}
	}
	p.recorder.WorkerFinished(string(res.Agent), status, d)
	p.publish(ctx, &Event{
		RunID:      runID,
		Type:       typ,
		Agent:      string(res.Agent),
		Status:     status,
		Error:      res.Error,
		DurationMS: d.Milliseconds(),
	})
	log.Info("analyst finished",
		zap.String("agent", string(res.Agent)),
		zap.String("status", status),
		zap.Duration("duration", d))
}

func (p *Pipeline) fail(log *zap.Logger, err error, start time.Time) error {
	d := time.Since(start)
	p.recorder.RunFinished(StatusFailed, d)
	fields := []zap.Field{zap.Error(err), zap.Duration("duration", d)}
	if pe, ok := err.(*PipelineError); ok {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}
	log.Error("analysis run failed", fields...)
	return err
}

func (p *Pipeline) publish(ctx context.Context, ev *Event) {
	if p.publisher == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.Warn("publish pipeline event",
			zap.String("run_id", ev.RunID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
