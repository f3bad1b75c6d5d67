package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Middleware transforms a message on its way out to or in from the relay.
// Implementations are pure: they take a message value and return a
// superseding value with the same context, or fail. They must not touch
// broker state except through their declared collaborators.
type Middleware[M any] interface {
	// Process transforms the message.
	Process(ctx context.Context, msg M) (M, error)

	// Name returns the stage name for logging and error reporting.
	Name() string
}

// MiddlewareFunc is a function adapter for Middleware.
type MiddlewareFunc[M any] struct {
	name string
	fn   func(ctx context.Context, msg M) (M, error)
}

// NewMiddlewareFunc creates a function-based middleware stage.
func NewMiddlewareFunc[M any](name string, fn func(ctx context.Context, msg M) (M, error)) *MiddlewareFunc[M] {
	return &MiddlewareFunc[M]{name: name, fn: fn}
}

// Process implements Middleware.
func (m *MiddlewareFunc[M]) Process(ctx context.Context, msg M) (M, error) {
	return m.fn(ctx, msg)
}

// Name implements Middleware.
func (m *MiddlewareFunc[M]) Name() string {
	return m.name
}

// MiddlewareError wraps the failure of a single stage. A failed run returns
// no partial result.
type MiddlewareError struct {
	Stage string
	Err   error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("pipeline: stage %s failed: %v", e.Stage, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}

// Pipeline applies an ordered sequence of middleware stages. Emission and
// reception use independent Pipeline instances with independently chosen
// stage orders.
type Pipeline[M any] struct {
	stages []Middleware[M]
	logger *slog.Logger
}

// New creates an empty pipeline.
func New[M any](logger *slog.Logger) *Pipeline[M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[M]{logger: logger}
}

// Register appends a stage. Stages run in registration order.
func (p *Pipeline[M]) Register(stage Middleware[M]) *Pipeline[M] {
	p.stages = append(p.stages, stage)
	return p
}

// Run threads the message through each stage sequentially, short-circuiting
// on the first failure with a MiddlewareError wrapping the original cause.
func (p *Pipeline[M]) Run(ctx context.Context, msg M) (M, error) {
	current := msg
	for _, stage := range p.stages {
		next, err := stage.Process(ctx, current)
		if err != nil {
			p.logger.Debug("pipeline stage failed", "stage", stage.Name(), "error", err)
			var zero M
			return zero, &MiddlewareError{Stage: stage.Name(), Err: err}
		}
		current = next
	}
	return current, nil
}
