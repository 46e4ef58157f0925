package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// SchemaVersion is written into every report produced by this build.
const SchemaVersion = 3

// ToneUnavailable marks a management tone score the extraction service did not provide.
const ToneUnavailable = -1.0

// Text is a string that also accepts JSON numbers and null. The extraction
// service is not consistent about quoting figures.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(strings.TrimSpace(string(data)))
	return nil
}

// KeyMetrics holds headline figures as reported in the filing.
type KeyMetrics struct {
	Revenue   Text `json:"revenue"`
	NetIncome Text `json:"netIncome"`
	EPS       Text `json:"eps"`
}

// ManagementTone is the extraction service's reading of the MD&A section.
type ManagementTone struct {
	Summary           string   `json:"summary"`
	CautiousnessScore *float64 `json:"cautiousness_score"`
}

// UnmarshalJSON accepts the score as a number or a quoted number. A score that
// is missing, null or not numeric decodes as nil.
func (m *ManagementTone) UnmarshalJSON(data []byte) error {
	var raw struct {
		Summary Text            `json:"summary"`
		Score   json.RawMessage `json:"cautiousness_score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Summary = string(raw.Summary)
	m.CautiousnessScore = parseScore(raw.Score)
	return nil
}

func parseScore(raw json.RawMessage) *float64 {
	var score Text
	if err := json.Unmarshal(raw, &score); err != nil || score == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(score)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// RiskSummary lists the top risks named in the filing.
type RiskSummary struct {
	TopRisks []string `json:"top_risks"`
}

// StatementLine is one row of a financial statement.
type StatementLine struct {
	Item           string `json:"item"`
	CurrentPeriod  Text   `json:"current_period"`
	PreviousPeriod Text   `json:"previous_period"`
}

// FinancialStatements groups the three primary statements.
type FinancialStatements struct {
	IncomeStatement   []StatementLine `json:"income_statement"`
	BalanceSheet      []StatementLine `json:"balance_sheet"`
	CashFlowStatement []StatementLine `json:"cash_flow_statement"`
}

// Ratio is a named financial ratio.
type Ratio struct {
	Name  string `json:"name"`
	Value Text   `json:"value"`
}

type FinancialRatios struct {
	Ratios []Ratio `json:"ratios"`
}

type Competitor struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

type CompetitorAnalysis struct {
	Competitors []Competitor `json:"competitors"`
}

type LegalSummary struct {
	LegalSummary []string `json:"legal_summary"`
}

type GuidanceStatement struct {
	Statement string `json:"statement"`
	Sentiment string `json:"sentiment"`
}

type GuidanceAnalysis struct {
	Guidance []GuidanceStatement `json:"guidance"`
}

type DebtMaturity struct {
	Year         Text `json:"year"`
	PrincipalDue Text `json:"principal_due"`
}

type DebtDetails struct {
	DebtSchedule []DebtMaturity `json:"debt_schedule"`
	Covenants    []string       `json:"covenants"`
}

type ESGMention struct {
	Statement string `json:"statement"`
	Category  string `json:"category"`
}

type ESGAnalysis struct {
	ESGMentions []ESGMention `json:"esg_mentions"`
}

type Footnote struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
}

type FootnoteSummary struct {
	FootnoteSummary []Footnote `json:"footnote_summary"`
}

// ExtractionResult is the structured data the extraction service returns for one document.
type ExtractionResult struct {
	Filename                string              `json:"filename"`
	RawRiskFactors          string              `json:"raw_risk_factors"`
	RawManagementDiscussion string              `json:"raw_management_discussion"`
	KeyMetrics              KeyMetrics          `json:"key_metrics"`
	ManagementTone          ManagementTone      `json:"management_tone"`
	RiskSummary             RiskSummary         `json:"risk_summary"`
	FinancialStatements     FinancialStatements `json:"financial_statements"`
	FinancialRatios         FinancialRatios     `json:"financial_ratios"`
	CompetitorAnalysis      CompetitorAnalysis  `json:"competitor_analysis"`
	LegalSummary            LegalSummary        `json:"legal_summary"`
	GuidanceAnalysis        GuidanceAnalysis    `json:"guidance_analysis"`
	GovernanceChanges       []string            `json:"governance_changes"`
	RedFlags                []string            `json:"red_flags"`
	DebtDetails             DebtDetails         `json:"debt_details"`
	ESGAnalysis             ESGAnalysis         `json:"esg_analysis"`
	FootnoteSummary         FootnoteSummary     `json:"footnote_summary"`
}

// RiskComparison lists substantive risk-factor changes between two filings.
type RiskComparison struct {
	ComparisonSummary []string `json:"comparison_summary"`
}

// ExecutiveSummary is a short narrative plus bullet takeaways.
type ExecutiveSummary struct {
	Paragraph string   `json:"paragraph"`
	Takeaways []string `json:"takeaways"`
}

// Benchmark compares one ratio against typical industry values.
type Benchmark struct {
	Name       string `json:"name"`
	Value      Text   `json:"value"`
	Comparison string `json:"comparison"`
}

type IndustryBenchmarks struct {
	Benchmarks []Benchmark `json:"benchmarks"`
}

// WordCloudTerm is one weighted term of the risk word cloud.
type WordCloudTerm struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

type RiskWordCloud struct {
	WordCloudData []WordCloudTerm `json:"wordcloud_data"`
}

// Report is the composed analysis of one or two filings.
type Report struct {
	SchemaVersion    int    `json:"schema_version"`
	UserID           string `json:"user_id"`
	Ticker           string `json:"ticker"`
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename"`
	ComparisonMode   bool   `json:"comparison_mode"`

	KeyMetrics              KeyMetrics          `json:"key_metrics"`
	ManagementTone          ManagementTone      `json:"management_tone"`
	RiskSummary             RiskSummary         `json:"risk_summary"`
	RawRiskFactors          string              `json:"raw_risk_factors"`
	RawManagementDiscussion string              `json:"raw_management_discussion"`
	FinancialStatements     FinancialStatements `json:"financial_statements"`
	FinancialRatios         FinancialRatios     `json:"financial_ratios"`
	CompetitorAnalysis      CompetitorAnalysis  `json:"competitor_analysis"`
	LegalSummary            LegalSummary        `json:"legal_summary"`
	GuidanceAnalysis        GuidanceAnalysis    `json:"guidance_analysis"`
	GovernanceChanges       []string            `json:"governance_changes"`
	RedFlags                []string            `json:"red_flags"`
	DebtDetails             DebtDetails         `json:"debt_details"`
	ESGAnalysis             ESGAnalysis         `json:"esg_analysis"`
	FootnoteSummary         FootnoteSummary     `json:"footnote_summary"`

	PreviousKeyMetrics     KeyMetrics     `json:"previous_key_metrics"`
	PreviousManagementTone ManagementTone `json:"previous_management_tone"`
	PreviousRawRiskFactors string         `json:"previous_raw_risk_factors"`

	RiskComparison      RiskComparison     `json:"risk_comparison"`
	RiskChangesDetected bool               `json:"risk_changes_detected"`
	ExecutiveSummary    ExecutiveSummary   `json:"executive_summary"`
	IndustryBenchmarks  IndustryBenchmarks `json:"industry_benchmarks"`
	RiskWordCloud       RiskWordCloud      `json:"risk_wordcloud"`
}

// StoredReport is a Report once it has been given an identity and a timestamp.
type StoredReport struct {
	Report
	ID         string    `json:"id"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// HistoryDocument is the Elasticsearch representation of a StoredReport.
// Filter fields are duplicated at the top level; the report body is stored
// but not indexed.
type HistoryDocument struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Ticker        string          `json:"ticker"`
	UploadedAt    time.Time       `json:"uploaded_at"`
	SchemaVersion int             `json:"schema_version"`
	Report        json.RawMessage `json:"report"`
}

// DocumentRole says which filing of a comparison a document is.
type DocumentRole string

const (
	RoleCurrent  DocumentRole = "current"
	RolePrevious DocumentRole = "previous"
)

// UploadedDocument is a filing received with a request. It is never persisted.
type UploadedDocument struct {
	Content  []byte
	Filename string
	MIMEType string
	Role     DocumentRole
}
