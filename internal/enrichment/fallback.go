package enrichment

import (
	"context"
	"fmt"
	"log/slog"
)

// WithDefault runs task and returns its result, or def if the task fails or
// panics. Failures are logged and never propagate.
func WithDefault[T any](ctx context.Context, log *slog.Logger, name string, def T, task func(context.Context) (T, error)) (out T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("enrichment panicked, using default",
				slog.String("task", name),
				slog.Any("err", fmt.Errorf("panic: %v", rec)),
			)
			out = def
		}
	}()

	result, err := task(ctx)
	if err != nil {
		log.Warn("enrichment failed, using default",
			slog.String("task", name),
			slog.Any("err", err),
		)
		return def
	}
	return result
}
