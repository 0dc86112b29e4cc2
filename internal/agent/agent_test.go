package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nidhogg/contract-analyzer/internal/provider"
	"go.uber.org/zap"
)

// recordingGenerator captures every request and answers with a fixed reply.
type recordingGenerator struct {
	mu    sync.Mutex
	reqs  []GenerateRequest
	reply string
	err   error
}

func (g *recordingGenerator) Generate(_ context.Context, req GenerateRequest) (*Generation, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return &Generation{Text: g.reply, RequestID: "req-1"}, nil
}

func (g *recordingGenerator) last() GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

func newTestAnalyst(t *testing.T, role Role, gen Generator, cfg Config) *Analyst {
	t.Helper()
	a, err := NewAnalyst(role, gen, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new analyst: %v", err)
	}
	return a
}

func TestAnalyzeSuccess(t *testing.T) {
	gen := &recordingGenerator{reply: "- Sections Found: 4"}
	a := newTestAnalyst(t, RoleStructure, gen, DefaultConfig())

	res := a.Analyze(context.Background(), "This Agreement is made between A and B.")
	if res.Agent != StructureAgent || res.AnalysisType != "structural" || res.Role != RoleStructure {
		t.Errorf("identity = %+v", res)
	}
	if res.Content != "- Sections Found: 4" || res.RunID != "req-1" || res.Error != "" || res.Degraded() {
		t.Errorf("result = %+v", res)
	}

	req := gen.last()
	if !strings.HasPrefix(req.Prompt, "Analyze this contract's structure briefly:\n\nThis Agreement") {
		t.Errorf("prompt = %q", req.Prompt)
	}
	if !strings.Contains(req.Instructions, "Structure Score") {
		t.Errorf("instructions = %q", req.Instructions)
	}
	if req.Model != "mistral-large-latest" || req.AgentID != StructureAgent {
		t.Errorf("request = %+v", req)
	}
}

func TestAnalyzeTruncatesToMaxInputChars(t *testing.T) {
	for _, role := range PhaseOneRoles {
		gen := &recordingGenerator{reply: "ok"}
		a := newTestAnalyst(t, role, gen, DefaultConfig())

		// multi-byte runes make sure the bound is counted in characters
		doc := strings.Repeat("é", 9000) + "TAIL"
		a.Analyze(context.Background(), doc)

		prompt := gen.last().Prompt
		if strings.Contains(prompt, "TAIL") {
			t.Fatalf("%s: text beyond the limit reached the prompt", role)
		}
		if got := strings.Count(prompt, "é"); got != DefaultMaxInputChars {
			t.Fatalf("%s: excerpt has %d characters, want %d", role, got, DefaultMaxInputChars)
		}
		if !utf8.ValidString(prompt) {
			t.Fatalf("%s: prompt is not valid UTF-8", role)
		}
	}
}

func TestAnalyzeShortInputPassesThrough(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	a := newTestAnalyst(t, RoleLegal, gen, DefaultConfig())

	a.Analyze(context.Background(), "")
	want := "Analyze this contract for legal risks briefly:\n\n\n\nProvide a short, readable summary of legal concerns."
	if got := gen.last().Prompt; got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestAnalyzeFailSoft(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("401 Unauthorized")}
	a := newTestAnalyst(t, RoleNegotiation, gen, DefaultConfig())

	res := a.Analyze(context.Background(), "contract")
	if res.Content != "⚠️ Analysis failed: 401 Unauthorized" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Error != "401 Unauthorized" || res.Failure != FailureError || res.RunID != "" {
		t.Errorf("result = %+v", res)
	}
	if res.Agent != NegotiationAgent || res.AnalysisType != "negotiation" {
		t.Errorf("identity = %+v", res)
	}
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	gen := GeneratorFunc(func(context.Context, GenerateRequest) (*Generation, error) {
		panic("nil map write")
	})
	a := newTestAnalyst(t, RoleLegal, gen, DefaultConfig())

	res := a.Analyze(context.Background(), "contract")
	if !strings.HasPrefix(res.Content, "⚠️ Analysis failed: panic: nil map write") {
		t.Errorf("content = %q", res.Content)
	}
	if res.Failure != FailureError {
		t.Errorf("failure = %q", res.Failure)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, _ GenerateRequest) (*Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	a := newTestAnalyst(t, RoleLegal, gen, cfg)

	res := a.Analyze(context.Background(), "contract")
	if res.Failure != FailureTimeout {
		t.Fatalf("failure = %q, want timeout", res.Failure)
	}
	if !strings.HasPrefix(res.Error, "timeout after 20ms") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.HasPrefix(res.Content, "⚠️ Analysis failed: timeout after") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestAnalyzeCallerCancellationIsNotTimeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, _ GenerateRequest) (*Generation, error) {
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAnalyst(t, RoleStructure, gen, DefaultConfig())

	res := a.Analyze(ctx, "contract")
	if res.Failure != FailureError {
		t.Errorf("failure = %q, want failed", res.Failure)
	}
}

func TestConsolidateSubstitutesPlaceholders(t *testing.T) {
	gen := &recordingGenerator{reply: "Sign with changes."}
	m := NewManager(gen, DefaultConfig(), zap.NewNop())

	agg := Aggregated{
		RoleStructure: {Agent: StructureAgent, Content: "Well organized."},
		RoleLegal:     {Agent: LegalAgent, Content: "   \n"},
	}
	res := m.Consolidate(context.Background(), agg)

	if res.Agent != ManagerAgent || res.AnalysisType != "consolidated" || res.Content != "Sign with changes." {
		t.Errorf("result = %+v", res)
	}
	want := "Consolidate these agent findings into a brief executive summary:\n\n" +
		"**Structure Analysis:**\nWell organized.\n\n" +
		"**Legal Analysis:**\nNo legal analysis available\n\n" +
		"**Negotiation Analysis:**\nNo negotiation analysis available\n\n" +
		"Provide a short, actionable summary with your recommendation."
	if got := gen.last().Prompt; got != want {
		t.Errorf("prompt =\n%q\nwant\n%q", got, want)
	}
}

func TestConsolidateEmbedsDegradedContentVerbatim(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	m := NewManager(gen, DefaultConfig(), zap.NewNop())

	long := strings.Repeat("x", 3*DefaultMaxInputChars)
	agg := Aggregated{
		RoleStructure:   {Content: long},
		RoleLegal:       {Content: "⚠️ Analysis failed: boom", Error: "boom"},
		RoleNegotiation: {Content: "n"},
	}
	m.Consolidate(context.Background(), agg)

	prompt := gen.last().Prompt
	if !strings.Contains(prompt, long) {
		t.Error("manager prompt must not truncate phase-one content")
	}
	if !strings.Contains(prompt, "**Legal Analysis:**\n⚠️ Analysis failed: boom") {
		t.Error("degraded content should be forwarded as-is")
	}
}

func TestConsolidateFailSoft(t *testing.T) {
	m := NewManager(&recordingGenerator{err: errors.New("rate limited")}, DefaultConfig(), zap.NewNop())
	res := m.Consolidate(context.Background(), Aggregated{})
	if res.Content != "⚠️ Consolidation failed: rate limited" || res.Error != "rate limited" {
		t.Errorf("result = %+v", res)
	}
}

func TestExportJSONShape(t *testing.T) {
	agg := Aggregated{
		RoleStructure:   {Agent: StructureAgent, Role: RoleStructure, AnalysisType: "structural", Content: "s", RunID: "r1"},
		RoleLegal:       {Agent: LegalAgent, Role: RoleLegal, AnalysisType: "legal", Content: "⚠️ Analysis failed: x", Error: "x", Failure: FailureError},
		RoleNegotiation: {Agent: NegotiationAgent, Role: RoleNegotiation, AnalysisType: "negotiation", Content: "n"},
	}
	data, err := json.Marshal(NewExport(agg, Result{Agent: ManagerAgent, AnalysisType: "consolidated", Content: "c"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"structure_analysis", "legal_analysis", "negotiation_analysis", "consolidated_report"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if doc["structure_analysis"]["run_id"] != "r1" {
		t.Errorf("structure = %v", doc["structure_analysis"])
	}
	if _, ok := doc["negotiation_analysis"]["run_id"]; ok {
		t.Error("empty run_id should be omitted")
	}
	if doc["legal_analysis"]["error"] != "x" {
		t.Errorf("legal = %v", doc["legal_analysis"])
	}
	if _, ok := doc["legal_analysis"]["Failure"]; ok {
		t.Error("failure kind must not be serialized")
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 3, "abc"},
		{"ab", 3, "ab"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, "abc"},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.limit); got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.limit, got, c.want)
		}
	}
}

func TestProfilesOrder(t *testing.T) {
	ps := Profiles()
	want := []AgentID{StructureAgent, LegalAgent, NegotiationAgent, ManagerAgent}
	if len(ps) != len(want) {
		t.Fatalf("profiles = %d", len(ps))
	}
	for i, p := range ps {
		if p.ID != want[i] {
			t.Errorf("profile %d = %s, want %s", i, p.ID, want[i])
		}
	}
}

type fixedProvider struct {
	got *provider.ChatRequest
}

func (p *fixedProvider) ID() string   { return "fixed" }
func (p *fixedProvider) Name() string { return "fixed" }
func (p *fixedProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.got = req
	return &provider.ChatResponse{ID: "cmpl-9", Content: "generated"}, nil
}
func (p *fixedProvider) HealthCheck(context.Context) error { return nil }

func TestRouterGenerator(t *testing.T) {
	router := provider.NewRouter(zap.NewNop(), provider.BreakerSettings{})
	fp := &fixedProvider{}
	router.Register(fp)

	gen := NewRouterGenerator(router)
	out, err := gen.Generate(context.Background(), GenerateRequest{
		AgentID:      LegalAgent,
		Model:        "m",
		Instructions: "be a lawyer",
		Prompt:       "read this",
		MaxTokens:    100,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "generated" || out.RequestID != "cmpl-9" {
		t.Errorf("generation = %+v", out)
	}
	if len(fp.got.Messages) != 2 || fp.got.Messages[0].Role != "system" || fp.got.Messages[1].Content != "read this" {
		t.Errorf("messages = %+v", fp.got.Messages)
	}
}
