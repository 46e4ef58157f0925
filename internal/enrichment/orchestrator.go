package enrichment

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/processing"
	"github.com/DeafMist/filing-insight/internal/report"
)

const (
	taskRiskComparison    = "risk_comparison"
	taskExecutiveSummary  = "executive_summary"
	taskIndustryBenchmark = "industry_benchmark"
)

// Input is what the orchestrator enriches. Previous is nil in single-document mode.
type Input struct {
	Ticker   string
	Current  *models.ExtractionResult
	Previous *models.ExtractionResult
}

// Orchestrator runs the three enrichment tasks concurrently.
type Orchestrator struct {
	log       *slog.Logger
	risk      *RiskComparer
	summary   *Summarizer
	benchmark *Benchmarker
	timeout   time.Duration
}

// NewOrchestrator wires the enrichment clients. timeout bounds each task; zero means no bound.
func NewOrchestrator(log *slog.Logger, risk *RiskComparer, summary *Summarizer, benchmark *Benchmarker, timeout time.Duration) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{log: log, risk: risk, summary: summary, benchmark: benchmark, timeout: timeout}
}

// DefaultEnrichments are used for every task that is skipped or fails.
func DefaultEnrichments() report.Enrichments {
	return report.Enrichments{
		RiskComparison:     models.RiskComparison{ComparisonSummary: []string{}},
		ExecutiveSummary:   models.ExecutiveSummary{Paragraph: "", Takeaways: []string{}},
		IndustryBenchmarks: models.IndustryBenchmarks{Benchmarks: []models.Benchmark{}},
	}
}

// Enrich never fails: every task degrades to its default independently.
func (o *Orchestrator) Enrich(ctx context.Context, in Input) report.Enrichments {
	out := DefaultEnrichments()
	if in.Current == nil {
		return out
	}

	var wg sync.WaitGroup

	if o.risk != nil && o.shouldCompareRisks(in) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.RiskComparison = WithDefault(ctx, o.log, taskRiskComparison, out.RiskComparison,
				func(ctx context.Context) (models.RiskComparison, error) {
					ctx, cancel := o.taskContext(ctx)
					defer cancel()
					return o.risk.Compare(ctx, in.Current.RawRiskFactors, in.Previous.RawRiskFactors)
				})
		}()
	}

	if o.summary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.ExecutiveSummary = WithDefault(ctx, o.log, taskExecutiveSummary, out.ExecutiveSummary,
				func(ctx context.Context) (models.ExecutiveSummary, error) {
					ctx, cancel := o.taskContext(ctx)
					defer cancel()
					return o.summary.Summarize(ctx, in.Current)
				})
		}()
	}

	if o.benchmark != nil && len(in.Current.FinancialRatios.Ratios) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.IndustryBenchmarks = WithDefault(ctx, o.log, taskIndustryBenchmark, out.IndustryBenchmarks,
				func(ctx context.Context) (models.IndustryBenchmarks, error) {
					ctx, cancel := o.taskContext(ctx)
					defer cancel()
					return o.benchmark.Benchmark(ctx, in.Ticker, in.Current.FinancialRatios.Ratios)
				})
		}()
	} else {
		o.log.Debug("no financial ratios, skipping benchmark")
	}

	wg.Wait()
	return out
}

func (o *Orchestrator) shouldCompareRisks(in Input) bool {
	if in.Previous == nil {
		return false
	}
	current := strings.TrimSpace(in.Current.RawRiskFactors)
	previous := strings.TrimSpace(in.Previous.RawRiskFactors)
	if current == "" || previous == "" {
		o.log.Debug("risk factors missing, skipping comparison")
		return false
	}
	if processing.SameText(current, previous) {
		o.log.Info("risk factors unchanged, skipping comparison")
		return false
	}
	return true
}

func (o *Orchestrator) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
