package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DeafMist/filing-insight/internal/models"
	"github.com/DeafMist/filing-insight/internal/processing"
)

const (
	wordCloudLimit  = 50
	wordCloudMinLen = 4
)

// ErrMissingIdentity is returned when a report would be assembled without a ticker or owner.
var ErrMissingIdentity = errors.New("report identity incomplete")

// Metadata identifies the request a report is assembled for.
type Metadata struct {
	UserID           string
	Ticker           string
	Filename         string
	PreviousFilename string
	ComparisonMode   bool
}

// Enrichments carries the results of the generative tasks. Missing values are
// replaced with their documented defaults.
type Enrichments struct {
	RiskComparison     models.RiskComparison
	ExecutiveSummary   models.ExecutiveSummary
	IndustryBenchmarks models.IndustryBenchmarks
}

// Assemble merges extraction results and enrichments into a Report. It performs
// no I/O and returns the same Report for the same inputs. previous may be nil.
func Assemble(current *models.ExtractionResult, previous *models.ExtractionResult, enr Enrichments, meta Metadata) (models.Report, error) {
	if strings.TrimSpace(meta.Ticker) == "" || strings.TrimSpace(meta.UserID) == "" {
		return models.Report{}, fmt.Errorf("assemble: %w", ErrMissingIdentity)
	}
	if current == nil {
		return models.Report{}, fmt.Errorf("assemble: current extraction is required")
	}

	r := models.Report{
		SchemaVersion:  models.SchemaVersion,
		UserID:         meta.UserID,
		Ticker:         meta.Ticker,
		Filename:       firstNonEmpty(meta.Filename, current.Filename),
		ComparisonMode: meta.ComparisonMode,

		KeyMetrics:              current.KeyMetrics,
		ManagementTone:          current.ManagementTone,
		RiskSummary:             current.RiskSummary,
		RawRiskFactors:          current.RawRiskFactors,
		RawManagementDiscussion: current.RawManagementDiscussion,
		FinancialStatements:     current.FinancialStatements,
		FinancialRatios:         current.FinancialRatios,
		CompetitorAnalysis:      current.CompetitorAnalysis,
		LegalSummary:            current.LegalSummary,
		GuidanceAnalysis:        current.GuidanceAnalysis,
		GovernanceChanges:       current.GovernanceChanges,
		RedFlags:                current.RedFlags,
		DebtDetails:             current.DebtDetails,
		ESGAnalysis:             current.ESGAnalysis,
		FootnoteSummary:         current.FootnoteSummary,

		RiskComparison:     enr.RiskComparison,
		ExecutiveSummary:   enr.ExecutiveSummary,
		IndustryBenchmarks: enr.IndustryBenchmarks,
		RiskWordCloud: models.RiskWordCloud{
			WordCloudData: processing.WordCloud(current.RawRiskFactors, wordCloudLimit, wordCloudMinLen),
		},
	}

	if previous != nil {
		r.PreviousFilename = firstNonEmpty(meta.PreviousFilename, previous.Filename)
		r.PreviousKeyMetrics = previous.KeyMetrics
		r.PreviousManagementTone = previous.ManagementTone
		r.PreviousRawRiskFactors = previous.RawRiskFactors
	}

	r.RiskChangesDetected = len(r.RiskComparison.ComparisonSummary) > 0

	Normalize(&r)
	return r, nil
}

// Normalize replaces every absent collection with an empty one and every
// absent tone score with ToneUnavailable. Applying it twice changes nothing.
func Normalize(r *models.Report) {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = models.SchemaVersion
	}

	r.ManagementTone = normalizeTone(r.ManagementTone)
	r.PreviousManagementTone = normalizeTone(r.PreviousManagementTone)

	r.RiskSummary.TopRisks = nonNil(r.RiskSummary.TopRisks)
	r.FinancialStatements.IncomeStatement = nonNil(r.FinancialStatements.IncomeStatement)
	r.FinancialStatements.BalanceSheet = nonNil(r.FinancialStatements.BalanceSheet)
	r.FinancialStatements.CashFlowStatement = nonNil(r.FinancialStatements.CashFlowStatement)
	r.FinancialRatios.Ratios = nonNil(r.FinancialRatios.Ratios)
	r.CompetitorAnalysis.Competitors = nonNil(r.CompetitorAnalysis.Competitors)
	r.LegalSummary.LegalSummary = nonNil(r.LegalSummary.LegalSummary)
	r.GuidanceAnalysis.Guidance = nonNil(r.GuidanceAnalysis.Guidance)
	r.GovernanceChanges = nonNil(r.GovernanceChanges)
	r.RedFlags = nonNil(r.RedFlags)
	r.DebtDetails.DebtSchedule = nonNil(r.DebtDetails.DebtSchedule)
	r.DebtDetails.Covenants = nonNil(r.DebtDetails.Covenants)
	r.ESGAnalysis.ESGMentions = nonNil(r.ESGAnalysis.ESGMentions)
	r.FootnoteSummary.FootnoteSummary = nonNil(r.FootnoteSummary.FootnoteSummary)

	r.RiskComparison.ComparisonSummary = nonNil(r.RiskComparison.ComparisonSummary)
	r.ExecutiveSummary.Takeaways = nonNil(r.ExecutiveSummary.Takeaways)
	r.IndustryBenchmarks.Benchmarks = nonNil(r.IndustryBenchmarks.Benchmarks)
	r.RiskWordCloud.WordCloudData = nonNil(r.RiskWordCloud.WordCloudData)
}

func normalizeTone(t models.ManagementTone) models.ManagementTone {
	if t.CautiousnessScore == nil {
		score := models.ToneUnavailable
		t.CautiousnessScore = &score
	}
	return t
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
