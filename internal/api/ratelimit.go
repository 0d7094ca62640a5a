package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages one limiter per engine endpoint and model
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewRateLimiterPool creates an empty pool
func NewRateLimiterPool(logger *slog.Logger) *RateLimiterPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// GetOrCreate returns the limiter for modelID, creating it on first use.
// The first requested rate wins.
func (p *RateLimiterPool) GetOrCreate(modelID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[modelID]; exists {
		if existing := p.rates[modelID]; existing != requestsPerMinute {
			p.logger.Warn("Rate limiter already exists with different rate, using existing rate",
				"model_id", modelID,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := max(1, requestsPerMinute/10)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[modelID] = limiter
	p.rates[modelID] = requestsPerMinute

	p.logger.Debug("Created rate limiter",
		"model_id", modelID,
		"rpm", requestsPerMinute,
		"burst", burst)

	return limiter
}

// Wait blocks until the limiter admits the next request and returns how long it waited
func (p *RateLimiterPool) Wait(ctx context.Context, modelID string, requestsPerMinute int) (time.Duration, error) {
	start := time.Now()
	err := p.GetOrCreate(modelID, requestsPerMinute).Wait(ctx)
	return time.Since(start), err
}
