package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxInputChars bounds the document excerpt sent to each analyst.
const DefaultMaxInputChars = 8000

// Config is injected into every analyst at construction.
type Config struct {
	Model         string
	MaxInputChars int
	// Timeout bounds a single generation call. Zero disables it.
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Model:         "mistral-large-latest",
		MaxInputChars: DefaultMaxInputChars,
		Timeout:       120 * time.Second,
		MaxTokens:     2048,
	}
}

func (c Config) normalize() Config {
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = DefaultMaxInputChars
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// Analyst runs one phase-one lens (structure, legal or negotiation) over a
// document. Analyze never fails: errors become a degraded Result.
type Analyst struct {
	profile Profile
	gen     Generator
	cfg     Config
	logger  *zap.Logger
}

// NewAnalyst builds the analyst serving role, which must be a phase-one role.
func NewAnalyst(role Role, gen Generator, cfg Config, logger *zap.Logger) (*Analyst, error) {
	p, ok := profiles[role]
	if !ok || p.prompt == nil {
		return nil, fmt.Errorf("no analyst for role %q", role)
	}
	return &Analyst{profile: p, gen: gen, cfg: cfg.normalize(), logger: logger}, nil
}

// NewAnalysts builds the structure, legal and negotiation analysts.
func NewAnalysts(gen Generator, cfg Config, logger *zap.Logger) []*Analyst {
	out := make([]*Analyst, 0, len(PhaseOneRoles))
	for _, role := range PhaseOneRoles {
		a, _ := NewAnalyst(role, gen, cfg, logger)
		out = append(out, a)
	}
	return out
}

func (a *Analyst) Role() Role       { return a.profile.Role }
func (a *Analyst) ID() AgentID      { return a.profile.ID }
func (a *Analyst) Profile() Profile { return a.profile }

// Analyze sends the first MaxInputChars characters of text to the generator.
func (a *Analyst) Analyze(ctx context.Context, text string) Result {
	excerpt := Truncate(text, a.cfg.MaxInputChars)
	return invoke(ctx, a.gen, a.cfg, a.profile, a.profile.prompt(excerpt), "Analysis failed", a.logger)
}

// invoke performs one generation call and folds every failure, panics
// included, into a degraded Result.
func invoke(ctx context.Context, gen Generator, cfg Config, p Profile, prompt, failLabel string, logger *zap.Logger) (res Result) {
	res = Result{Agent: p.ID, Role: p.Role, AnalysisType: p.AnalysisType}
	start := time.Now()

	fail := func(kind FailureKind, msg string) {
		res.Content = fmt.Sprintf("%s %s: %s", DegradedMarker, failLabel, msg)
		res.Error = msg
		res.Failure = kind
		res.RunID = ""
		logger.Warn("analyst degraded",
			zap.String("agent", string(p.ID)),
			zap.String("failure", string(kind)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", msg))
	}

	defer func() {
		if r := recover(); r != nil {
			fail(FailureError, fmt.Sprintf("panic: %v", r))
		}
	}()

	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	out, err := gen.Generate(callCtx, GenerateRequest{
		AgentID:      p.ID,
		Model:        cfg.Model,
		Instructions: p.instructions,
		Prompt:       prompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	})
	switch {
	case err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		fail(FailureTimeout, fmt.Sprintf("timeout after %s: %v", cfg.Timeout, err))
		return res
	case err != nil:
		fail(FailureError, err.Error())
		return res
	case out == nil:
		fail(FailureError, "empty response from text generation service")
		return res
	}

	res.Content = out.Text
	res.RunID = out.RequestID
	logger.Debug("analyst finished",
		zap.String("agent", string(p.ID)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(out.Text)))
	return res
}
