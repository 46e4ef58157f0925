package enrichment_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/filing-insight/internal/enrichment"
	"github.com/DeafMist/filing-insight/internal/llm"
	"github.com/DeafMist/filing-insight/internal/models"
)

const (
	kindRisk      = "risk"
	kindSummary   = "summary"
	kindBenchmark = "benchmark"
	kindExplain   = "explain"
)

func kindOf(req llm.Request) string {
	switch {
	case strings.Contains(req.Prompt, "CURRENT REPORT RISK FACTORS"):
		return kindRisk
	case strings.Contains(req.Prompt, "executive summary"):
		return kindSummary
	case strings.Contains(req.Prompt, "RATIOS:"):
		return kindBenchmark
	default:
		return kindExplain
	}
}

type stubGenerator struct {
	mu      sync.Mutex
	calls   map[string]int
	replies map[string]string
	errs    map[string]error
	panics  map[string]bool
}

func newStub() *stubGenerator {
	return &stubGenerator{
		calls: map[string]int{},
		replies: map[string]string{
			kindRisk:      `{"comparison_summary": ["Added a cybersecurity risk."]}`,
			kindSummary:   "```json\n{\"paragraph\": \"A solid year.\", \"takeaways\": [\"Revenue grew\"]}\n```",
			kindBenchmark: `{"benchmarks": [{"name": "Current Ratio", "value": "1.4", "comparison": "Above peers"}]}`,
			kindExplain:   "Revenue rose each year.",
		},
		errs:   map[string]error{},
		panics: map[string]bool{},
	}
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	kind := kindOf(req)
	s.mu.Lock()
	s.calls[kind]++
	reply, err, shouldPanic := s.replies[kind], s.errs[kind], s.panics[kind]
	s.mu.Unlock()

	if shouldPanic {
		panic("provider exploded")
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (s *stubGenerator) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orchestrator(gen llm.Generator, timeout time.Duration) *enrichment.Orchestrator {
	return enrichment.NewOrchestrator(discardLogger(),
		enrichment.NewRiskComparer(gen, 10000),
		enrichment.NewSummarizer(gen, 10000),
		enrichment.NewBenchmarker(gen),
		timeout,
	)
}

func filing(risks string) *models.ExtractionResult {
	return &models.ExtractionResult{
		RawRiskFactors:  risks,
		FinancialRatios: models.FinancialRatios{Ratios: []models.Ratio{{Name: "Current Ratio", Value: "1.4"}}},
	}
}

func TestEnrichComparisonModeRunsAllTasks(t *testing.T) {
	gen := newStub()
	out := orchestrator(gen, time.Second).Enrich(context.Background(), enrichment.Input{
		Ticker:   "ACME",
		Current:  filing("We face cybersecurity threats and competition."),
		Previous: filing("We face competition."),
	})

	require.Equal(t, []string{"Added a cybersecurity risk."}, out.RiskComparison.ComparisonSummary)
	require.Equal(t, "A solid year.", out.ExecutiveSummary.Paragraph)
	require.Equal(t, []string{"Revenue grew"}, out.ExecutiveSummary.Takeaways)
	require.Len(t, out.IndustryBenchmarks.Benchmarks, 1)
	require.Equal(t, 1, gen.count(kindRisk))
	require.Equal(t, 1, gen.count(kindSummary))
	require.Equal(t, 1, gen.count(kindBenchmark))
}

func TestEnrichSingleModeSkipsRiskComparison(t *testing.T) {
	gen := newStub()
	out := orchestrator(gen, time.Second).Enrich(context.Background(), enrichment.Input{
		Ticker:  "ACME",
		Current: filing("We face competition."),
	})

	require.NotNil(t, out.RiskComparison.ComparisonSummary)
	require.Empty(t, out.RiskComparison.ComparisonSummary)
	require.Equal(t, 0, gen.count(kindRisk))
	require.Equal(t, 1, gen.count(kindSummary))
}

func TestEnrichIdenticalRisksSkipsModel(t *testing.T) {
	gen := newStub()
	out := orchestrator(gen, time.Second).Enrich(context.Background(), enrichment.Input{
		Ticker:   "ACME",
		Current:  filing("We face\ncompetition."),
		Previous: filing("We face competition.  "),
	})

	require.NotNil(t, out.RiskComparison.ComparisonSummary)
	require.Empty(t, out.RiskComparison.ComparisonSummary)
	require.Equal(t, 0, gen.count(kindRisk))
}

func TestEnrichNoRatiosSkipsBenchmark(t *testing.T) {
	gen := newStub()
	current := filing("risks")
	current.FinancialRatios.Ratios = nil

	out := orchestrator(gen, time.Second).Enrich(context.Background(), enrichment.Input{Current: current})
	require.NotNil(t, out.IndustryBenchmarks.Benchmarks)
	require.Empty(t, out.IndustryBenchmarks.Benchmarks)
	require.Equal(t, 0, gen.count(kindBenchmark))
}

func TestEnrichFailuresDegradeToDefaults(t *testing.T) {
	gen := newStub()
	gen.errs[kindRisk] = errors.New("upstream 503")
	gen.replies[kindSummary] = "I cannot help with that."
	gen.panics[kindBenchmark] = true

	out := orchestrator(gen, time.Second).Enrich(context.Background(), enrichment.Input{
		Ticker:   "ACME",
		Current:  filing("New risks."),
		Previous: filing("Old risks."),
	})

	require.Equal(t, enrichment.DefaultEnrichments(), out)
	data, err := json.Marshal(out.ExecutiveSummary)
	require.NoError(t, err)
	require.JSONEq(t, `{"paragraph": "", "takeaways": []}`, string(data))
}

// barrierGenerator only answers once every expected call is in flight.
type barrierGenerator struct {
	*stubGenerator
	wg sync.WaitGroup
}

func (b *barrierGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	b.wg.Done()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return b.stubGenerator.Generate(ctx, req)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestEnrichRunsTasksConcurrently(t *testing.T) {
	gen := &barrierGenerator{stubGenerator: newStub()}
	gen.wg.Add(3)

	out := orchestrator(gen, 2*time.Second).Enrich(context.Background(), enrichment.Input{
		Ticker:   "ACME",
		Current:  filing("New risks."),
		Previous: filing("Old risks."),
	})

	require.NotEmpty(t, out.RiskComparison.ComparisonSummary)
	require.NotEmpty(t, out.ExecutiveSummary.Paragraph)
	require.NotEmpty(t, out.IndustryBenchmarks.Benchmarks)
}

func TestEnrichTimeoutUsesDefault(t *testing.T) {
	gen := &barrierGenerator{stubGenerator: newStub()}
	gen.wg.Add(10)

	start := time.Now()
	out := orchestrator(gen, 50*time.Millisecond).Enrich(context.Background(), enrichment.Input{
		Current: filing("risks"),
	})
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, enrichment.DefaultEnrichments(), out)
}

func TestWithDefault(t *testing.T) {
	got := enrichment.WithDefault(context.Background(), discardLogger(), "ok", "fallback",
		func(context.Context) (string, error) { return "value", nil })
	require.Equal(t, "value", got)

	got = enrichment.WithDefault(context.Background(), discardLogger(), "fails", "fallback",
		func(context.Context) (string, error) { return "partial", errors.New("boom") })
	require.Equal(t, "fallback", got)
}

func TestExplain(t *testing.T) {
	gen := newStub()
	explainer := enrichment.NewExplainer(gen)

	out, err := explainer.Explain(context.Background(), enrichment.ExplainRequest{
		ChartTitle: "Revenue trend",
		ChartData:  json.RawMessage(`[{"year": 2023, "revenue": 10}]`),
	})
	require.NoError(t, err)
	require.Equal(t, "Revenue rose each year.", out)

	_, err = explainer.Explain(context.Background(), enrichment.ExplainRequest{})
	require.ErrorIs(t, err, enrichment.ErrInvalidExplainRequest)

	gen.errs[kindExplain] = errors.New("quota exceeded")
	_, err = explainer.Explain(context.Background(), enrichment.ExplainRequest{ChartTitle: "Debt"})
	require.Error(t, err)
}

type promptRecorder struct {
	prompts []string
	reply   string
}

func (p *promptRecorder) Generate(_ context.Context, req llm.Request) (string, error) {
	p.prompts = append(p.prompts, req.Prompt)
	return p.reply, nil
}

func TestSummarizeIncludesRiskKeywords(t *testing.T) {
	gen := &promptRecorder{reply: `{"paragraph": "p", "takeaways": []}`}
	current := &models.ExtractionResult{
		RawRiskFactors: "Cybersecurity incidents could disrupt operations. Cybersecurity spending keeps rising.",
	}

	out, err := enrichment.NewSummarizer(gen, 10000).Summarize(context.Background(), current)
	require.NoError(t, err)
	require.Equal(t, "p", out.Paragraph)
	require.Len(t, gen.prompts, 1)
	require.Contains(t, gen.prompts[0], `"risk_keywords"`)
	require.Contains(t, gen.prompts[0], `"cybersecurity"`)
}

func TestSummarizeOmitsKeywordsWithoutRiskText(t *testing.T) {
	gen := &promptRecorder{reply: `{"paragraph": "p"}`}

	out, err := enrichment.NewSummarizer(gen, 10000).Summarize(context.Background(), &models.ExtractionResult{})
	require.NoError(t, err)
	require.NotNil(t, out.Takeaways)
	require.NotContains(t, gen.prompts[0], "risk_keywords")
}
