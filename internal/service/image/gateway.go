package image

import (
	"context"
	"errors"
	"log"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
)

// Generator produces one image for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// Gateway tries the primary provider and, on a server-side failure, the
// fallback exactly once. Client errors (4xx) are returned as is.
type Gateway struct {
	primary  Generator
	fallback Generator
	metrics  *metrics.Metrics
}

// NewGateway builds a gateway. fallback may be nil to disable the fallback.
func NewGateway(primary, fallback Generator, m *metrics.Metrics) *Gateway {
	return &Gateway{primary: primary, fallback: fallback, metrics: m}
}

// GenerateImage returns the first successful image. When both providers fail
// the error is *apperr.AllProvidersExhaustedError.
func (g *Gateway) GenerateImage(ctx context.Context, prompt string) (*Result, error) {
	result, primaryErr := g.primary.Generate(ctx, prompt)
	if primaryErr == nil {
		return result, nil
	}

	if g.fallback == nil || !shouldFallback(ctx, primaryErr) {
		log.Printf("[image] provider %s failed, not falling back: %v", g.primary.Name(), primaryErr)
		return nil, primaryErr
	}

	log.Printf("[image] provider %s failed, trying fallback %s: %v", g.primary.Name(), g.fallback.Name(), primaryErr)
	g.metrics.IncImageFallback()

	result, fallbackErr := g.fallback.Generate(ctx, prompt)
	if fallbackErr != nil {
		log.Printf("[image] fallback %s failed: %v", g.fallback.Name(), fallbackErr)
		return nil, &apperr.AllProvidersExhaustedError{Primary: primaryErr, Fallback: fallbackErr}
	}

	log.Printf("[image] fallback %s succeeded", g.fallback.Name())
	return result, nil
}

func shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var providerErr *apperr.ProviderError
	if !errors.As(err, &providerErr) {
		return false
	}
	return providerErr.ServerSide()
}
