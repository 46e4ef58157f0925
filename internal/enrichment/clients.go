package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/filing-insight/internal/llm"
	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/processing"
)

// ErrInvalidExplainRequest is returned when an explain request has no chart title.
var ErrInvalidExplainRequest = errors.New("chartTitle is required")

// RiskComparer asks a model which risk factors changed between two filings.
type RiskComparer struct {
	gen      llm.Generator
	maxChars int
}

func NewRiskComparer(gen llm.Generator, maxChars int) *RiskComparer {
	return &RiskComparer{gen: gen, maxChars: maxChars}
}

// Compare returns the substantive changes from previous to current.
func (c *RiskComparer) Compare(ctx context.Context, current, previous string) (models.RiskComparison, error) {
	prompt := fmt.Sprintf(riskComparisonPrompt,
		processing.Truncate(previous, c.maxChars),
		processing.Truncate(current, c.maxChars),
	)

	reply, err := c.gen.Generate(ctx, llm.Request{System: analystSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return models.RiskComparison{}, err
	}

	var out models.RiskComparison
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return models.RiskComparison{}, err
	}
	if out.ComparisonSummary == nil {
		out.ComparisonSummary = []string{}
	}
	return out, nil
}

// Summarizer writes the executive summary of one filing.
type Summarizer struct {
	gen      llm.Generator
	maxChars int
}

func NewSummarizer(gen llm.Generator, maxChars int) *Summarizer {
	return &Summarizer{gen: gen, maxChars: maxChars}
}

type summaryInput struct {
	KeyMetrics        models.KeyMetrics          `json:"key_metrics"`
	ManagementTone    string                     `json:"management_tone"`
	TopRisks          []string                   `json:"top_risks"`
	RedFlags          []string                   `json:"red_flags"`
	Competitors       []models.Competitor        `json:"competitors"`
	LegalProceedings  []string                   `json:"legal_proceedings"`
	Guidance          []models.GuidanceStatement `json:"guidance"`
	GovernanceChanges []string                   `json:"governance_changes"`
	RiskKeywords      []string                   `json:"risk_keywords,omitempty"`
}

const (
	summaryKeywordLimit  = 15
	summaryKeywordMinLen = 5
)

// Summarize condenses the extraction into a short narrative and takeaways.
func (s *Summarizer) Summarize(ctx context.Context, current *models.ExtractionResult) (models.ExecutiveSummary, error) {
	in := summaryInput{
		KeyMetrics:        current.KeyMetrics,
		ManagementTone:    current.ManagementTone.Summary,
		TopRisks:          current.RiskSummary.TopRisks,
		RedFlags:          current.RedFlags,
		Competitors:       current.CompetitorAnalysis.Competitors,
		LegalProceedings:  current.LegalSummary.LegalSummary,
		Guidance:          current.GuidanceAnalysis.Guidance,
		GovernanceChanges: current.GovernanceChanges,
		RiskKeywords:      processing.ExtractKeywords(current.RawRiskFactors, summaryKeywordLimit, summaryKeywordMinLen),
	}
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return models.ExecutiveSummary{}, fmt.Errorf("marshal summary input: %w", err)
	}

	prompt := fmt.Sprintf(executiveSummaryPrompt, processing.Truncate(string(data), s.maxChars))
	reply, err := s.gen.Generate(ctx, llm.Request{System: analystSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return models.ExecutiveSummary{}, err
	}

	var out models.ExecutiveSummary
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return models.ExecutiveSummary{}, err
	}
	if out.Takeaways == nil {
		out.Takeaways = []string{}
	}
	return out, nil
}

// Benchmarker compares financial ratios against industry norms.
type Benchmarker struct {
	gen llm.Generator
}

func NewBenchmarker(gen llm.Generator) *Benchmarker {
	return &Benchmarker{gen: gen}
}

// Benchmark returns one comparison per ratio.
func (b *Benchmarker) Benchmark(ctx context.Context, ticker string, ratios []models.Ratio) (models.IndustryBenchmarks, error) {
	var sb strings.Builder
	for _, r := range ratios {
		fmt.Fprintf(&sb, "- %s: %s\n", r.Name, r.Value)
	}

	company := ticker
	if company == "" {
		company = "the company"
	}

	prompt := fmt.Sprintf(benchmarkPrompt, company, sb.String())
	reply, err := b.gen.Generate(ctx, llm.Request{System: analystSystemPrompt, Prompt: prompt, JSON: true})
	if err != nil {
		return models.IndustryBenchmarks{}, err
	}

	var out models.IndustryBenchmarks
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return models.IndustryBenchmarks{}, err
	}
	if out.Benchmarks == nil {
		out.Benchmarks = []models.Benchmark{}
	}
	return out, nil
}

// ExplainRequest describes a chart the caller wants explained.
type ExplainRequest struct {
	ChartTitle string          `json:"chartTitle"`
	ChartData  json.RawMessage `json:"chartData"`
	Context    string          `json:"context"`
}

// Explainer turns chart data into a plain-language explanation.
type Explainer struct {
	gen llm.Generator
}

func NewExplainer(gen llm.Generator) *Explainer {
	return &Explainer{gen: gen}
}

// Explain returns the explanation text. Unlike the report enrichments its
// failures are returned to the caller.
func (e *Explainer) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	if strings.TrimSpace(req.ChartTitle) == "" {
		return "", ErrInvalidExplainRequest
	}

	data := strings.TrimSpace(string(req.ChartData))
	if data == "" {
		data = "(none provided)"
	}
	extra := ""
	if c := strings.TrimSpace(req.Context); c != "" {
		extra = "\nADDITIONAL CONTEXT:\n" + c
	}

	reply, err := e.gen.Generate(ctx, llm.Request{
		System: explainSystemPrompt,
		Prompt: fmt.Sprintf(explainPrompt, req.ChartTitle, data, extra),
	})
	if err != nil {
		return "", fmt.Errorf("explain chart: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
