package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited paces calls to another Generator.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited allows rpm requests per minute with the given burst. A non-positive
// rpm disables pacing.
func NewLimited(next Generator, rpm, burst int) *Limited {
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Generate implements Generator.
func (l *Limited) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Generate(ctx, req)
}
