package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/contract-analyzer/internal/agent"
)

// Worker is a phase-one analyst. Analyze must not fail; errors are reported
// inside the returned Result.
type Worker interface {
	Role() agent.Role
	ID() agent.AgentID
	Analyze(ctx context.Context, text string) agent.Result
}

// Consolidator is the phase-two analyst.
type Consolidator interface {
	ID() agent.AgentID
	Consolidate(ctx context.Context, agg agent.Aggregated) agent.Result
}

// Report is the outcome of one pipeline run.
type Report struct {
	RunID        string
	Aggregated   agent.Aggregated
	Consolidated agent.Result
	Duration     time.Duration
}

// Export arranges the report for the JSON download.
func (r *Report) Export() agent.Export {
	return agent.NewExport(r.Aggregated, r.Consolidated)
}

// Degraded counts the analysts, manager included, that failed soft.
func (r *Report) Degraded() int {
	n := 0
	for _, res := range r.Aggregated {
		if res.Degraded() {
			n++
		}
	}
	if r.Consolidated.Degraded() {
		n++
	}
	return n
}

// PipelineError reports a panic that escaped an analyst goroutine.
type PipelineError struct {
	RunID string
	Agent agent.AgentID
	Value any
	Stack []byte
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline run %s: %s panicked: %v", e.RunID, e.Agent, e.Value)
}

// Unwrap exposes a panic value that was itself an error.
func (e *PipelineError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Run statuses reported to the recorder and on the event bus.
const (
	StatusCompleted = "completed"
	StatusDegraded  = "degraded"
	StatusFailed    = "failed"
	StatusOK        = "ok"
)

// Recorder receives pipeline measurements.
type Recorder interface {
	RunStarted()
	RunFinished(status string, d time.Duration)
	WorkerFinished(agentID string, status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                                  {}
func (nopRecorder) RunFinished(string, time.Duration)            {}
func (nopRecorder) WorkerFinished(string, string, time.Duration) {}

// EventType names a pipeline lifecycle event.
type EventType string

const (
	EventRunStarted             EventType = "run.started"
	EventAnalysisCompleted      EventType = "analysis.completed"
	EventConsolidationCompleted EventType = "consolidation.completed"
	EventRunCompleted           EventType = "run.completed"
)

// Event is one entry on the pipeline event stream.
type Event struct {
	RunID      string    `json:"run_id"`
	Type       EventType `json:"type"`
	Agent      string    `json:"agent,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers pipeline events. Failures never affect a run.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}
