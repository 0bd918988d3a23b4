// Package inference wraps the external inference service behind a narrow
// client interface. Providers: Anthropic (SDK), Google Gemini (genai SDK),
// any OpenAI-compatible HTTP endpoint. Unavailability is always an error
// return, never a fault.
package inference

import (
	"context"
	"errors"
	"time"
)

// Options bounds one generation call. A zero Timeout means the caller's
// context is the only bound.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOptions suits general answer generation.
func DefaultOptions() Options {
	return Options{Temperature: 0.7, MaxTokens: 1024, Timeout: 60 * time.Second}
}

// RoutingOptions suits short classification calls: deterministic, small, and
// quick to give up.
func RoutingOptions(timeout time.Duration) Options {
	return Options{Temperature: 0, MaxTokens: 256, Timeout: timeout}
}

// Client is the inference service boundary consumed by the core.
type Client interface {
	// Generate produces text for a prompt. An empty return with nil error
	// does not occur; empty output is reported as ErrEmptyResponse.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// ErrEmptyResponse is returned when the backend answers with no content.
var ErrEmptyResponse = errors.New("inference: empty response")

// withTimeout derives a bounded context from opts.
func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opts.Timeout)
}
