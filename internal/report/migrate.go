package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/DeafMist/filing-insight/internal/models"
)

// Schema history:
//
//	1: the first gateway shape, before enrichment (no summary, benchmarks or comparison).
//	2: executive_summary stored as a plain string.
//	3: executive_summary as {paragraph, takeaways}; risk word cloud and change flag.
const schemaLegacy = 1

type storedBody struct {
	models.Report
	ExecutiveSummary json.RawMessage `json:"executive_summary"`
}

// Migrate decodes a stored report body written under any known schema version
// and returns it in the current shape. A version of 0 means the body predates
// versioning and is treated as version 1.
func Migrate(body []byte, version int) (models.Report, error) {
	if version == 0 {
		version = schemaLegacy
	}
	if version > models.SchemaVersion {
		return models.Report{}, fmt.Errorf("unsupported report schema version %d", version)
	}

	var stored storedBody
	if err := json.Unmarshal(body, &stored); err != nil {
		return models.Report{}, fmt.Errorf("decode report body: %w", err)
	}

	r := stored.Report
	summary, err := decodeSummary(stored.ExecutiveSummary)
	if err != nil {
		return models.Report{}, err
	}
	r.ExecutiveSummary = summary

	if version < models.SchemaVersion {
		r.RiskChangesDetected = len(r.RiskComparison.ComparisonSummary) > 0
	}
	r.SchemaVersion = models.SchemaVersion
	Normalize(&r)
	return r, nil
}

func decodeSummary(raw json.RawMessage) (models.ExecutiveSummary, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.ExecutiveSummary{}, nil
	}

	if raw[0] == '"' {
		var paragraph string
		if err := json.Unmarshal(raw, &paragraph); err != nil {
			return models.ExecutiveSummary{}, fmt.Errorf("decode executive summary: %w", err)
		}
		return models.ExecutiveSummary{Paragraph: paragraph}, nil
	}

	var summary models.ExecutiveSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return models.ExecutiveSummary{}, fmt.Errorf("decode executive summary: %w", err)
	}
	return summary, nil
}
