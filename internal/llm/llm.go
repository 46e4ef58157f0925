// Package llm wraps the generative model providers behind a single interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Request is one prompt sent to a model.
type Request struct {
	System string
	Prompt string
	// JSON asks the provider for a JSON-only reply where it supports that.
	JSON bool
}

// Generator produces a text reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// DecodeJSON parses a model reply into out. Markdown code fences are stripped
// and, failing a direct parse, the outermost JSON object is tried.
func DecodeJSON(reply string, out any) error {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```JSON")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("invalid JSON in model reply")
}
