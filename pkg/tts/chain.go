package tts

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain implements Synthesizer by trying multiple backends in order.
// The first successful backend wins; if all fail, returns an aggregate error.
type Chain struct {
	backends []Synthesizer
	logger   *slog.Logger
}

// NewChain creates a backend chain that tries backends in order.
// At least one backend is required.
func NewChain(backends ...Synthesizer) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackend
	}
	return &Chain{
		backends: backends,
		logger:   slog.Default().With("component", "tts.chain"),
	}, nil
}

// Synthesize tries each backend until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*Result, error) {
	var errs []error

	for i, b := range c.backends {
		result, err := b.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback backend succeeded",
					"backend_index", i,
					"chars", len(text),
				)
			}
			return result, nil
		}

		errs = append(errs, err)
		c.logger.Warn("backend failed, trying next",
			"backend_index", i,
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

// Health returns an error only when every backend is unhealthy.
func (c *Chain) Health(ctx context.Context) error {
	var healthy int
	var lastErr error

	for _, b := range c.backends {
		if err := b.Health(ctx); err != nil {
			lastErr = err
		} else {
			healthy++
		}
	}

	if healthy == 0 {
		return fmt.Errorf("all %d backends unhealthy: %w", len(c.backends), lastErr)
	}
	return nil
}

// Close closes all backends.
func (c *Chain) Close() error {
	var lastErr error
	for _, b := range c.backends {
		if err := b.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChainError aggregates errors from all backends in a chain.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: no errors recorded"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: all %d backends failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap returns the last error in the chain.
func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

var _ Synthesizer = (*Chain)(nil)
